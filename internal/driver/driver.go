// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package driver implements C9: the Init -> Probing -> Planning ->
// Running -> Finalizing -> {Done|Failed} state machine that sequences
// the rest of the mosaic core, grounded on
// encoding/converter.go's ConvertToPAM/ConvertToBAM's always-run
// close/err-merge tail (here made an explicit phase rather than a
// defer chain, since Finalizing must also remove a partial output on
// failure).
package driver

import (
	"context"
	"fmt"
	"io/ioutil"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mosaic/internal/cache"
	"github.com/grailbio/mosaic/internal/config"
	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/monitor"
	"github.com/grailbio/mosaic/internal/plan"
	"github.com/grailbio/mosaic/internal/rasterio"
	"github.com/grailbio/mosaic/internal/worker"
	"github.com/grailbio/mosaic/internal/writer"
)

// State names the driver's lifecycle phases (spec.md §4.9).
type State int

const (
	Init State = iota
	Probing
	Planning
	Running
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Probing:
		return "Probing"
	case Planning:
		return "Planning"
	case Running:
		return "Running"
	case Finalizing:
		return "Finalizing"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Driver runs a single mosaic job end to end. It constructs and owns all
// shared state explicitly (spec.md §9's "No singletons; the driver
// constructs and passes all state explicitly").
type Driver struct {
	Provider rasterio.Provider
	Opts     config.Options
	Monitor  *monitor.Monitor

	state State
}

// Result is what DoMosaic/the CLI gets back: the Monitor record and the
// terminal state.
type Result struct {
	State   State
	Record  monitor.Record
	NumRead int
}

// Run executes inputPaths -> outputPath through every phase. now is a
// time source the caller supplies (rather than time.Now here) so that a
// wrapped clock can be swapped in; DoMosaic passes time.Now directly.
func (d *Driver) Run(ctx context.Context, inputPaths []string, outputPath string, now func() time.Time) (Result, error) {
	d.state = Init
	if d.Monitor == nil {
		d.Monitor = monitor.New(d.effectiveWorkers())
	}
	d.Monitor.SetConfig(monitor.ConfigRecord{
		NumWorkers:     d.effectiveWorkers(),
		BlockSize:      d.effectiveBlockSize(),
		LookAheadBlock: lookAhead(d.effectiveWorkers()),
		HandleCacheCap: d.Opts.HandleCacheSize,
		Resampling:     string(d.Opts.Resampling),
	})

	infos, err := d.probe(ctx, inputPaths, now)
	if err != nil {
		return d.fail(err)
	}

	p, outGrid, err := d.plan(ctx, infos, now)
	if err != nil {
		return d.fail(err)
	}

	aborted, runErr := d.run(ctx, infos, p, outGrid, outputPath, now)

	result, err := d.finalize(ctx, outputPath, aborted, runErr, now)
	return result, err
}

// PlanOnly runs Probing and Planning and stops, backing the `mosaic
// validate` subcommand (SPEC_FULL.md supplemental feature 1): no
// output is created, no Running/Finalizing phase is entered.
func (d *Driver) PlanOnly(ctx context.Context, inputPaths []string, now func() time.Time) (Result, error) {
	d.state = Init
	if d.Monitor == nil {
		d.Monitor = monitor.New(d.effectiveWorkers())
	}
	d.Monitor.SetConfig(monitor.ConfigRecord{
		NumWorkers:     d.effectiveWorkers(),
		BlockSize:      d.effectiveBlockSize(),
		LookAheadBlock: lookAhead(d.effectiveWorkers()),
		HandleCacheCap: d.Opts.HandleCacheSize,
		Resampling:     string(d.Opts.Resampling),
	})

	infos, err := d.probe(ctx, inputPaths, now)
	if err != nil {
		return d.fail(err)
	}
	if _, _, err := d.plan(ctx, infos, now); err != nil {
		return d.fail(err)
	}
	d.state = Done
	d.Monitor.Finish(nil)
	return Result{State: Done, Record: d.Monitor.Snapshot()}, nil
}

func (d *Driver) effectiveWorkers() int {
	if d.Opts.NumWorkers > 0 {
		return d.Opts.NumWorkers
	}
	return runtime.NumCPU()
}

func (d *Driver) effectiveBlockSize() int {
	if d.Opts.BlockSize > 0 {
		return d.Opts.BlockSize
	}
	return 1024
}

// resolveTargetProjection implements --outprojepsg/--outprojwktfile
// (spec.md §6): at most one is set (enforced by config.Options.Validate),
// and an unset pair means ResolveGrid should default to the first
// input's projection. An EPSG code is encoded as the opaque "EPSG:n"
// token GridSpec.Projection already accepts from a Provider; a WKT file
// is read via grailbio/base/file so its path may be local or remote,
// matching the rest of the core's input handling.
func (d *Driver) resolveTargetProjection(ctx context.Context) (string, error) {
	if d.Opts.OutProjEPSG != 0 {
		return fmt.Sprintf("EPSG:%d", d.Opts.OutProjEPSG), nil
	}
	if d.Opts.OutProjWKTFile == "" {
		return "", nil
	}
	f, err := file.Open(ctx, d.Opts.OutProjWKTFile)
	if err != nil {
		return "", errtax.E(errtax.Usage, err, "opening WKT projection file", "path", d.Opts.OutProjWKTFile)
	}
	defer f.Close(ctx) // nolint: errcheck
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return "", errtax.E(errtax.Usage, err, "reading WKT projection file", "path", d.Opts.OutProjWKTFile)
	}
	return strings.TrimSpace(string(data)), nil
}

func lookAhead(n int) int {
	if n < 2 {
		return 2
	}
	return n
}

func (d *Driver) probe(ctx context.Context, inputPaths []string, now func() time.Time) ([]*rasterio.ImageInfo, error) {
	d.state = Probing
	d.Monitor.BeginPhase(monitor.PhaseProbing, now())
	defer func() { d.Monitor.EndPhase(monitor.PhaseProbing, now()) }()

	infos, err := rasterio.ProbeAll(ctx, d.Provider, inputPaths)
	if err != nil {
		return nil, err
	}
	d.Monitor.SetPlan(monitor.PlanRecord{NumInputs: len(infos)})
	return infos, nil
}

func (d *Driver) plan(ctx context.Context, infos []*rasterio.ImageInfo, now func() time.Time) (*plan.BlockPlan, geo.GridSpec, error) {
	d.state = Planning
	d.Monitor.BeginPhase(monitor.PhasePlanning, now())
	defer func() { d.Monitor.EndPhase(monitor.PhasePlanning, now()) }()

	resolverInputs := make([]geo.Input, len(infos))
	for i, info := range infos {
		resolverInputs[i] = geo.Input{ID: info.Path, Grid: info.Grid}
	}
	targetProj, err := d.resolveTargetProjection(ctx)
	if err != nil {
		return nil, geo.GridSpec{}, err
	}
	opts := geo.Options{
		TargetProjection: targetProj,
		TargetXRes:       d.Opts.XRes,
		TargetYRes:       d.Opts.YRes,
		Resampling:       d.Opts.Resampling,
	}
	outGrid, err := geo.ResolveGrid(resolverInputs, opts, d.Provider)
	if err != nil {
		return nil, geo.GridSpec{}, err
	}
	if d.Opts.HasNullVal {
		outGrid.HasNodata = true
		outGrid.Nodata = d.Opts.NullVal
	}

	p, err := plan.BuildPlan(*outGrid, infos, d.effectiveBlockSize(), d.Provider, d.Opts.Resampling)
	if err != nil {
		return nil, geo.GridSpec{}, err
	}
	d.Monitor.SetPlan(monitor.PlanRecord{
		NumInputs:          len(infos),
		NumBlocks:          p.NumBlocks(),
		NumReadTasks:       p.NumReadTasks(),
		MaxContribsPerObid: p.MaxContribsPerObid,
		BlockSize:          p.BlockSize,
	})
	return p, *outGrid, nil
}

// run executes C7: the entire plan is re-executed once per output band
// (spec.md §4.7), reusing the same Probing/Planning results (infos, p,
// outGrid) across every pass. Each band gets its own BlockCache (a band's
// look-ahead window is independent of the others), but the abort flag and
// error-once are shared across the whole loop, so a failure in any band
// immediately stops subsequent bands from starting.
func (d *Driver) run(ctx context.Context, infos []*rasterio.ImageInfo, p *plan.BlockPlan, outGrid geo.GridSpec, outputPath string, now func() time.Time) (bool, error) {
	d.state = Running
	d.Monitor.BeginPhase(monitor.PhaseRunning, now())
	defer func() { d.Monitor.EndPhase(monitor.PhaseRunning, now()) }()

	n := d.effectiveWorkers()
	var aborted atomic.Bool
	errOnce := &errors.Once{}

	infoMap := make(map[rasterio.InputID]*rasterio.ImageInfo, len(infos))
	for _, info := range infos {
		infoMap[info.ID] = info
	}

	blocksPerRow := geo.BlocksPerCol(outGrid.Width, p.BlockSize)

	out, err := d.Provider.CreateOutput(ctx, outputPath, outGrid, d.Opts.Driver, d.Opts.CreationOptions)
	if err != nil {
		return false, errtax.E(errtax.Write, err, "creating output", "path", outputPath)
	}

	for band := 0; band < outGrid.NumBands(); band++ {
		if aborted.Load() {
			break
		}
		d.runBand(ctx, p, outGrid, out, band, n, blocksPerRow, infoMap, &aborted, errOnce)
	}

	if cerr := out.Close(); cerr != nil {
		errOnce.Set(errtax.E(errtax.Write, cerr, "closing output"))
	}

	if aborted.Load() {
		return true, errOnce.Err()
	}
	return false, errOnce.Err()
}

// runBand executes one pass of C6/C7 over band: a fresh BlockCache and
// worker partition, the same plan p re-walked from the top (spec.md §4.7).
func (d *Driver) runBand(ctx context.Context, p *plan.BlockPlan, outGrid geo.GridSpec, out rasterio.Writer, band, n, blocksPerRow int, infoMap map[rasterio.InputID]*rasterio.ImageInfo, aborted *atomic.Bool, errOnce *errors.Once) {
	bc := cache.New(lookAhead(n), aborted)
	for _, entry := range p.Entries {
		bc.SetExpected(entry.Obid, len(entry.Tasks))
	}

	partitions := p.Flatten().Partition(n)
	wcfg := worker.Config{
		Provider:     d.Provider,
		Infos:        infoMap,
		OutGrid:      outGrid,
		Resampling:   d.Opts.Resampling,
		BlocksPerRow: blocksPerRow,
		HandleCache:  d.Opts.HandleCacheSize,
		Band:         band,
	}

	var wg sync.WaitGroup
	for i, part := range partitions {
		wg.Add(1)
		go func(i int, part []plan.ReadTask) {
			defer wg.Done()
			stats := worker.Run(ctx, i, wcfg, part, bc, aborted, errOnce)
			d.Monitor.RecordWorker(i, monitor.WorkerRecord{
				TasksRead:     stats.TasksRead,
				BytesRead:     stats.BytesRead,
				HandleOpens:   stats.HandleOpens,
				WaitOnCacheNS: stats.WaitOnCacheNS,
			})
		}(i, part)
	}

	wstats := writer.Run(ctx, p, outGrid, out, band, bc, aborted, errOnce)
	wg.Wait()

	d.Monitor.RecordWriter(monitor.WriterRecord{
		BlocksWritten: wstats.BlocksWritten,
		BytesWritten:  wstats.BytesWritten,
		WaitOnQueueNS: wstats.WaitOnQueueNS,
	})
}

// finalize always removes a partial output on failure (run has already
// closed the output, and each worker its read handles), but it only records a
// Finalizing/Done monitor phase on the success path: an aborted run's
// cleanup is immediate bookkeeping, not a timed phase worth reporting
// (spec.md §8 scenario S6: an aborted run's monitor JSON has Probing and
// Planning timings but no Finalizing/Done entries).
func (d *Driver) finalize(ctx context.Context, outputPath string, aborted bool, runErr error, now func() time.Time) (Result, error) {
	if aborted || runErr != nil {
		if rmErr := d.Provider.RemoveOutput(ctx, outputPath); rmErr != nil {
			log.Printf("mosaic: failed to remove partial output %s: %v", outputPath, rmErr)
		}
		d.state = Failed
		d.Monitor.Finish(runErr)
		return Result{State: Failed, Record: d.Monitor.Snapshot()}, runErr
	}

	d.state = Finalizing
	d.Monitor.BeginPhase(monitor.PhaseFinalizing, now())
	d.Monitor.EndPhase(monitor.PhaseFinalizing, now())

	d.state = Done
	d.Monitor.Finish(nil)
	return Result{State: Done, Record: d.Monitor.Snapshot()}, nil
}

func (d *Driver) fail(err error) (Result, error) {
	d.state = Failed
	d.Monitor.Finish(err)
	return Result{State: Failed, Record: d.Monitor.Snapshot()}, err
}
