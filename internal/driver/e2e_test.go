// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/mosaic/internal/cache"
	"github.com/grailbio/mosaic/internal/config"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/plan"
	"github.com/grailbio/mosaic/internal/rasterio"
	"github.com/grailbio/mosaic/internal/worker"
	"github.com/grailbio/mosaic/internal/writer"
)

// fakeInput registers a constant-valued Byte raster at origin (ox, oy) with
// the given size, in the table-driven golden-scenario style of
// encoding/pam/pam_e2e_test.go's mustOpenBAM/generatePAM helpers.
func fakeInput(p *rasterio.FakeProvider, path string, ox, oy, w, h int, val byte) {
	buf := make([]byte, w*h)
	for i := range buf {
		buf[i] = val
	}
	p.Register(path, &rasterio.FakeImage{
		Grid: geo.GridSpec{
			Projection: "EPSG:4326",
			Transform:  geo.GeoTransform{OriginX: float64(ox), OriginY: float64(oy), PixelWidth: 1, PixelHeight: -1},
			Width:      w, Height: h, DataType: geo.Byte,
			HasNodata: true, Nodata: 0,
		},
		Buf: buf,
	})
}

// TestE2ES1SingleInputCoversGridExactly exercises spec.md §8 scenario S1
// with the literal pixel array given there: a single 2x2 input reproduced
// verbatim in the output.
func TestE2ES1SingleInputCoversGridExactly(t *testing.T) {
	p := rasterio.NewFakeProvider()
	p.Register("a.tif", &rasterio.FakeImage{
		Grid: geo.GridSpec{
			Projection: "EPSG:4326",
			Transform:  geo.GeoTransform{OriginX: 0, OriginY: 2, PixelWidth: 1, PixelHeight: -1},
			Width:      2, Height: 2, DataType: geo.Byte, HasNodata: true, Nodata: 0,
		},
		Buf: []byte{10, 20, 30, 40},
	})

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 1, BlockSize: 2}}
	result, err := d.Run(context.Background(), []string{"a.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)

	buf, _, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, []byte{10, 20, 30, 40}, buf)
}

// TestE2ES2NonOverlappingInputsTileSideBySide exercises spec.md §8 scenario
// S2: two non-overlapping 2x2 inputs placed side by side produce a 2x4
// output with no blending, each obid served by a single contribution.
func TestE2ES2NonOverlappingInputsTileSideBySide(t *testing.T) {
	p := rasterio.NewFakeProvider()
	p.Register("a.tif", &rasterio.FakeImage{
		Grid: geo.GridSpec{Projection: "EPSG:4326", Transform: geo.GeoTransform{OriginX: 0, OriginY: 2, PixelWidth: 1, PixelHeight: -1}, Width: 2, Height: 2, DataType: geo.Byte, HasNodata: true, Nodata: 0},
		Buf:  []byte{1, 2, 3, 4},
	})
	p.Register("b.tif", &rasterio.FakeImage{
		Grid: geo.GridSpec{Projection: "EPSG:4326", Transform: geo.GeoTransform{OriginX: 2, OriginY: 2, PixelWidth: 1, PixelHeight: -1}, Width: 2, Height: 2, DataType: geo.Byte, HasNodata: true, Nodata: 0},
		Buf:  []byte{5, 6, 7, 8},
	})

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 2, BlockSize: 2}}
	result, err := d.Run(context.Background(), []string{"a.tif", "b.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 2, result.Record.Plan.NumBlocks)

	buf, outGrid, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, 4, outGrid.Width)
	assert.Equal(t, 2, outGrid.Height)
	assert.Equal(t, []byte{1, 2, 5, 6, 3, 4, 7, 8}, buf)
}

// TestE2ES3OverlapPriorityOrderWins exercises spec.md §8 scenario S3: two
// overlapping inputs, the first in input-list order wins the overlap.
func TestE2ES3OverlapPriorityOrderWins(t *testing.T) {
	p := rasterio.NewFakeProvider()
	fakeInput(p, "a.tif", 0, 2, 2, 2, 1)
	fakeInput(p, "b.tif", 1, 2, 2, 2, 2)

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 1, BlockSize: 3}}
	result, err := d.Run(context.Background(), []string{"a.tif", "b.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)

	buf, outGrid, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, 3, outGrid.Width)
	// column 1 is contested; A (listed first) wins it.
	assert.Equal(t, []byte{1, 1, 2, 1, 1, 2}, buf)
}

// TestE2ES4NodataHoleBetweenInputs exercises spec.md §8 scenario S4: a gap
// column between two inputs is left at the output's nodata sentinel.
func TestE2ES4NodataHoleBetweenInputs(t *testing.T) {
	p := rasterio.NewFakeProvider()
	fakeInput(p, "a.tif", 0, 2, 2, 2, 9)
	fakeInput(p, "b.tif", 3, 2, 2, 2, 8) // column 2 is left empty

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 1, BlockSize: 5}}
	result, err := d.Run(context.Background(), []string{"a.tif", "b.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)

	buf, outGrid, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, 5, outGrid.Width)
	assert.Equal(t, []byte{9, 9, 0, 8, 8, 9, 9, 0, 8, 8}, buf)
}

// TestE2ES7MultiBandReexecutesPlanPerBand exercises SPEC_FULL.md's S7: a
// 2-band input's bands are kept independent across the per-band
// re-execution loop in internal/driver.run, not interleaved or blended.
func TestE2ES7MultiBandReexecutesPlanPerBand(t *testing.T) {
	p := rasterio.NewFakeProvider()
	p.Register("a.tif", &rasterio.FakeImage{
		Grid: geo.GridSpec{
			Projection: "EPSG:4326",
			Transform:  geo.GeoTransform{OriginX: 0, OriginY: 2, PixelWidth: 1, PixelHeight: -1},
			Width:      2, Height: 2, DataType: geo.Byte, HasNodata: true, Nodata: 0, Bands: 2,
		},
		// band-sequential: band 0 plane, then band 1 plane.
		Buf: []byte{10, 20, 30, 40, 1, 2, 3, 4},
	})

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 1, BlockSize: 2}}
	result, err := d.Run(context.Background(), []string{"a.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)

	buf, outGrid, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, 2, outGrid.NumBands())
	assert.Equal(t, []byte{10, 20, 30, 40, 1, 2, 3, 4}, buf)

	// Every worker slot accumulates counters across both band passes.
	var totalTasks int
	for _, w := range result.Record.Workers {
		totalTasks += w.TasksRead
	}
	assert.Equal(t, 2, totalTasks) // one ReadTask per band
}

// TestE2ES8RoundTripMultiBlockTiling exercises SPEC_FULL.md's S8: a 4x4
// output split into a 2x2 grid of blocks, with three inputs whose
// priority-resolved winner differs per block, confirming block row/column
// addressing into the output buffer.
func TestE2ES8RoundTripMultiBlockTiling(t *testing.T) {
	p := rasterio.NewFakeProvider()
	fakeInput(p, "a1.tif", 0, 4, 2, 2, 1) // block (0,0)
	fakeInput(p, "a2.tif", 2, 2, 2, 2, 3) // block (1,1)
	fakeInput(p, "b.tif", 0, 4, 4, 4, 2)  // whole grid, lowest priority

	d := &Driver{Provider: p, Opts: config.Options{NumWorkers: 2, BlockSize: 2}}
	result, err := d.Run(context.Background(), []string{"a1.tif", "a2.tif", "b.tif"}, "out.tif", fixedClock())
	require.NoError(t, err)
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 4, result.Record.Plan.NumBlocks)

	buf, outGrid, ok := p.Output("out.tif")
	require.True(t, ok)
	assert.Equal(t, 4, outGrid.Width)
	assert.Equal(t, 4, outGrid.Height)
	expected := []byte{
		1, 1, 2, 2,
		1, 1, 2, 2,
		2, 2, 3, 3,
		2, 2, 3, 3,
	}
	assert.Equal(t, expected, buf)
}

// TestE2ES5CacheNeverExceedsLookAheadBoundUnderConcurrency exercises
// spec.md §8 scenario S5 directly against internal/cache, internal/worker,
// and internal/writer under real goroutine concurrency (not a synchronous
// mock): 4 obids, 4 inputs each contributing to every obid, N=2 workers,
// W_LA=2. A slow writer lets the cache build a backlog; a concurrent
// poller samples BlockCache.Len() throughout the run and asserts it never
// exceeds W_LA * contributions-per-obid = 2*4 = 8, per the cache-bound
// invariant Publish enforces.
func TestE2ES5CacheNeverExceedsLookAheadBoundUnderConcurrency(t *testing.T) {
	const numObids = 4
	const numInputs = 4
	const lookAhead = 2
	const bound = lookAhead * numInputs

	grid := geo.GridSpec{Width: 8, Height: 2, DataType: geo.Byte}
	p := &plan.BlockPlan{Grid: grid, BlockSize: 2}
	for col := 0; col < numObids; col++ {
		obid := geo.OutputBlockId{Row: 0, Col: col}
		var tasks []plan.ReadTask
		for iid := 0; iid < numInputs; iid++ {
			tasks = append(tasks, plan.ReadTask{
				Obid: obid, IID: rasterio.InputID(iid),
				SrcRect: geo.BlockRect{W: 2, H: 2}, DstRect: geo.BlockRect{W: 2, H: 2},
			})
		}
		p.Entries = append(p.Entries, plan.BlockPlanEntry{Obid: obid, Tasks: tasks})
	}

	fp := rasterio.NewFakeProvider()
	infos := make(map[rasterio.InputID]*rasterio.ImageInfo, numInputs)
	for iid := 0; iid < numInputs; iid++ {
		path := string(rune('a' + iid))
		fp.Register(path, &rasterio.FakeImage{Grid: grid, Buf: make([]byte, 8*2)})
		infos[rasterio.InputID(iid)] = &rasterio.ImageInfo{ID: rasterio.InputID(iid), Path: path, Grid: grid}
	}

	var aborted atomic.Bool
	bc := cache.New(lookAhead, &aborted)
	for _, e := range p.Entries {
		bc.SetExpected(e.Obid, len(e.Tasks))
	}
	errOnce := &errors.Once{}

	var maxLen int64
	stopPolling := make(chan struct{})
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go func() {
		defer pollWG.Done()
		for {
			select {
			case <-stopPolling:
				return
			default:
			}
			n := int64(bc.Len())
			for {
				cur := atomic.LoadInt64(&maxLen)
				if n <= cur || atomic.CompareAndSwapInt64(&maxLen, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	partitions := p.Flatten().Partition(2)
	wcfg := worker.Config{Provider: fp, Infos: infos, OutGrid: grid, Resampling: geo.Near, BlocksPerRow: numObids}

	var wg sync.WaitGroup
	for i, part := range partitions {
		wg.Add(1)
		go func(i int, part []plan.ReadTask) {
			defer wg.Done()
			worker.Run(context.Background(), i, wcfg, part, bc, &aborted, errOnce)
		}(i, part)
	}

	out := &slowWriter{delay: 2 * time.Millisecond}
	writer.Run(context.Background(), p, grid, out, 0, bc, &aborted, errOnce)
	wg.Wait()
	close(stopPolling)
	pollWG.Wait()

	require.NoError(t, errOnce.Err())
	assert.LessOrEqual(t, atomic.LoadInt64(&maxLen), int64(bound),
		"cache residency must never exceed W_LA * contributions-per-obid")
}

type slowWriter struct {
	delay time.Duration
}

func (w *slowWriter) WriteBlock(ctx context.Context, rect geo.BlockRect, band int, buf []byte) error {
	time.Sleep(w.delay)
	return nil
}
func (w *slowWriter) Close() error { return nil }

func fixedClock() func() time.Time {
	t0 := time.Unix(0, 0)
	step := 0
	return func() time.Time {
		step++
		return t0.Add(time.Duration(step) * time.Second)
	}
}
