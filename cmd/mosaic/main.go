// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.
package main

/*
mosaic concurrently builds a single georeferenced raster from an ordered
list of input rasters, compositing overlapping inputs by priority order
(first hit wins).
*/

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/mosaic"
	"github.com/grailbio/mosaic/internal/config"
	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/monitor"
)

// kvList collects repeated --co K=V flags into an ordered []string,
// matching the repeatable creation-option flags in
// other_examples/...airbusgeo-cogger.../cmd/tiler/main.go, adapted to
// the standard flag package's flag.Value interface since the teacher
// uses no flag-parsing library beyond stdlib.
type kvList []string

func (l *kvList) String() string { return strings.Join(*l, ",") }
func (l *kvList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var (
	inFileList      = flag.String("i", "", "Path to a text file listing input raster paths, one per line, in priority order")
	outFile         = flag.String("o", "", "Output raster path")
	numWorkers      = flag.Int("n", 0, "Number of read worker goroutines; 0 = runtime.NumCPU()")
	blockSize       = flag.Int("b", 1024, "Output grid working block size, in pixels")
	outDriver       = flag.String("d", "GTiff", "Output GDAL driver short name")
	nullVal         = flag.Float64("nullval", 0, "Nodata value override for the output grid")
	hasNullVal      = flag.Bool("hasnullval", false, "Apply -nullval as an override (if false, -nullval is ignored and the first input's nodata is used)")
	monitorJSONPath = flag.String("monitorjson", "", "Path to write the JSON monitor record to")
	outProjEPSG     = flag.Int("outprojepsg", 0, "Output projection as an EPSG code; mutually exclusive with -outprojwktfile")
	outProjWKTFile  = flag.String("outprojwktfile", "", "Path to a file containing the output projection as WKT; mutually exclusive with -outprojepsg")
	xres            = flag.Float64("xres", 0, "Output pixel width override")
	yres            = flag.Float64("yres", 0, "Output pixel height override")
	resample        = flag.String("resample", "near", "Resampling method for reprojected inputs: near, bilinear, cubic, cubicspline, lanczos, average, mode")
	creationOpts    kvList
)

func init() {
	flag.Var(&creationOpts, "co", "Output creation option K=V; may be repeated")
}

func mosaicUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s validate [OPTIONS]   (dry-run: probe + plan only)\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func buildOptions() (config.Options, error) {
	resampling, err := geo.ParseResampling(*resample)
	if err != nil {
		return config.Options{}, err
	}
	opts := config.Options{
		NumWorkers:      *numWorkers,
		BlockSize:       *blockSize,
		Driver:          *outDriver,
		CreationOptions: []string(creationOpts),
		HasNullVal:      *hasNullVal,
		NullVal:         *nullVal,
		MonitorJSONPath: *monitorJSONPath,
		OutProjEPSG:     *outProjEPSG,
		OutProjWKTFile:  *outProjWKTFile,
		XRes:            *xres,
		YRes:            *yres,
		Resampling:      resampling,
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

func writeMonitorJSON(path string, data []byte) {
	if path == "" {
		return
	}
	ctx := vcontext.Background()
	w, err := file.Create(ctx, path)
	if err != nil {
		log.Printf("mosaic: failed to create monitor JSON %s: %v", path, err)
		return
	}
	defer w.Close(ctx) // nolint: errcheck
	if _, err := w.Writer(ctx).Write(data); err != nil {
		log.Printf("mosaic: failed to write monitor JSON %s: %v", path, err)
	}
}

func main() {
	flag.Usage = mosaicUsage
	shutdown := grail.Init()
	defer shutdown()

	args := os.Args[1:]
	validateOnly := false
	if len(args) > 0 && args[0] == "validate" {
		validateOnly = true
		args = args[1:]
	}
	if err := flag.CommandLine.Parse(args); err != nil {
		log.Fatalf("%v", err)
	}

	if *inFileList == "" || (*outFile == "" && !validateOnly) {
		err := errtax.E(errtax.Usage, "-i and -o are required")
		log.Printf("mosaic: %v", err)
		mosaicUsage()
		os.Exit(errtax.ExitCode(err))
	}

	opts, err := buildOptions()
	if err != nil {
		log.Printf("mosaic: %v", err)
		os.Exit(errtax.ExitCode(err))
	}

	ctx := vcontext.Background()
	paths, err := config.ReadInputList(ctx, *inFileList)
	if err != nil {
		log.Printf("mosaic: %v", err)
		os.Exit(errtax.ExitCode(err))
	}

	var record monitor.Record
	var runErr error
	if validateOnly {
		rec, e := mosaic.ValidatePlan(ctx, paths, opts)
		runErr = e
		record = rec
	} else {
		rec, e := mosaic.DoMosaic(ctx, paths, *outFile, opts)
		runErr = e
		record = rec
	}

	if *monitorJSONPath != "" {
		if data, merr := json.Marshal(record); merr == nil {
			writeMonitorJSON(*monitorJSONPath, data)
		} else {
			log.Printf("mosaic: failed to marshal monitor record: %v", merr)
		}
	}

	if runErr != nil {
		log.Printf("mosaic: %v", runErr)
		os.Exit(errtax.ExitCode(runErr))
	}
	log.Debug.Printf("mosaic: done")
}
