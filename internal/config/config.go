// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines the mosaic option bag (spec.md §6, §9's "Dynamic
// option bag. The CLI option set is fixed; represent it as an explicit
// configuration value with exactly the fields in §6"), and the
// input-list file parser `mosaic -i` reads.
package config

import (
	"bufio"
	"context"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
)

// Options is the full set of options spec.md §6 defines, shared
// verbatim between the CLI (cmd/mosaic) and the programmatic entry
// point (DoMosaic).
type Options struct {
	// NumWorkers is N (-n); 0 means runtime.NumCPU().
	NumWorkers int
	// BlockSize is B (-b), the output grid's working tile size.
	BlockSize int
	// Driver is the output GDAL driver short name (-d), e.g. "GTiff".
	Driver string
	// CreationOptions is the ordered --co K=V list, passed opaquely to
	// Provider.CreateOutput (spec.md §9).
	CreationOptions []string
	// HasNullVal/NullVal is --nullval: a nodata override applied to the
	// output grid regardless of what the first input reports.
	HasNullVal bool
	NullVal    float64
	// MonitorJSONPath is --monitorjson; empty means no JSON is written.
	MonitorJSONPath string
	// OutProjEPSG/OutProjWKTFile are the two mutually exclusive ways to
	// set --outprojepsg/--outprojwktfile; at most one may be set.
	OutProjEPSG     int
	OutProjWKTFile  string
	XRes, YRes      float64
	Resampling      geo.Resampling
	// HandleCacheSize bounds each worker's open-Reader LRU (spec.md
	// §4.6); 0 means worker.DefaultHandleCacheSize.
	HandleCacheSize int
}

// Validate checks option combinations that are Usage errors independent
// of any input file (spec.md §7a): an EPSG code and a WKT file are
// mutually exclusive, and a resampling method name must be one GDAL
// recognizes.
func (o *Options) Validate() error {
	if o.OutProjEPSG != 0 && o.OutProjWKTFile != "" {
		return errtax.E(errtax.Usage, "--outprojepsg and --outprojwktfile are mutually exclusive")
	}
	if o.NumWorkers < 0 {
		return errtax.E(errtax.Usage, "-n must be >= 0")
	}
	if o.BlockSize < 0 {
		return errtax.E(errtax.Usage, "-b must be >= 0")
	}
	if o.Resampling != "" {
		if _, err := geo.ParseResampling(string(o.Resampling)); err != nil {
			return err
		}
	}
	return nil
}

// ReadInputList reads an infilelist (spec.md §6: "a text file, one path
// per line, blank lines and #-prefixed lines ignored; order is
// significant"). It is read through grailbio/base/file so a local path
// or an object-storage URL both work, matching markduplicates' own use
// of file.Open for both local and remote paths.
func ReadInputList(ctx context.Context, path string) ([]string, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errtax.E(errtax.Usage, err, "opening input list", "path", path)
	}
	defer f.Close(ctx)

	var paths []string
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errtax.E(errtax.Usage, err, "reading input list", "path", path)
	}
	if len(paths) == 0 {
		return nil, errtax.E(errtax.Usage, "input list is empty", "path", path)
	}
	return paths, nil
}
