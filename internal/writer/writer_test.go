// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package writer

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/mosaic/internal/cache"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/plan"
	"github.com/grailbio/mosaic/internal/rasterio"
)

func TestComposeFirstHitWins(t *testing.T) {
	grid := geo.GridSpec{DataType: geo.Byte, HasNodata: true, Nodata: 0}
	outRect := geo.BlockRect{X: 0, Y: 0, W: 2, H: 2}
	tasks := []plan.ReadTask{
		{IID: 0, DstRect: geo.BlockRect{X: 0, Y: 0, W: 2, H: 2}},
		{IID: 1, DstRect: geo.BlockRect{X: 0, Y: 0, W: 2, H: 2}},
	}
	contribs := map[rasterio.InputID]*cache.DecodedBlock{
		0: {Buf: []byte{9, 0, 0, 0}}, // only top-left pixel has data; rest nodata
		1: {Buf: []byte{7, 7, 7, 7}}, // would fill everything if it went first
	}
	buf := compose(grid, outRect, tasks, contribs)
	// input 0 wins the top-left pixel (first in priority order); input 1
	// fills everything input 0 left as nodata.
	assert.Equal(t, []byte{9, 7, 7, 7}, buf)
}

func TestComposeMissingContributionSkipped(t *testing.T) {
	grid := geo.GridSpec{DataType: geo.Byte}
	outRect := geo.BlockRect{X: 0, Y: 0, W: 1, H: 1}
	tasks := []plan.ReadTask{{IID: 5, DstRect: geo.BlockRect{X: 0, Y: 0, W: 1, H: 1}}}
	buf := compose(grid, outRect, tasks, map[rasterio.InputID]*cache.DecodedBlock{})
	assert.Equal(t, []byte{0}, buf)
}

type recordingWriter struct {
	writes []geo.BlockRect
	failAt int
}

func (w *recordingWriter) WriteBlock(ctx context.Context, rect geo.BlockRect, band int, buf []byte) error {
	if w.failAt > 0 && len(w.writes)+1 == w.failAt {
		return assert.AnError
	}
	w.writes = append(w.writes, rect)
	return nil
}
func (w *recordingWriter) Close() error { return nil }

func TestRunWritesAllEntriesInOrder(t *testing.T) {
	grid := geo.GridSpec{DataType: geo.Byte, Width: 20, Height: 10}
	p := &plan.BlockPlan{
		Grid: grid, BlockSize: 10,
		Entries: []plan.BlockPlanEntry{
			{Obid: geo.OutputBlockId{Row: 0, Col: 0}, Tasks: []plan.ReadTask{{IID: 0, DstRect: geo.BlockRect{W: 10, H: 10}}}},
			{Obid: geo.OutputBlockId{Row: 0, Col: 1}, Tasks: []plan.ReadTask{{IID: 0, DstRect: geo.BlockRect{W: 10, H: 10}}}},
		},
	}
	var aborted atomic.Bool
	bc := cache.New(4, &aborted)
	for _, e := range p.Entries {
		bc.SetExpected(e.Obid, 1)
	}
	bc.Publish(0, &cache.DecodedBlock{Obid: p.Entries[0].Obid, IID: 0, Buf: make([]byte, 100)})
	bc.Publish(1, &cache.DecodedBlock{Obid: p.Entries[1].Obid, IID: 0, Buf: make([]byte, 100)})

	out := &recordingWriter{}
	errOnce := &errors.Once{}
	stats := Run(context.Background(), p, grid, out, 0, bc, &aborted, errOnce)

	require.NoError(t, errOnce.Err())
	assert.Equal(t, 2, stats.BlocksWritten)
	assert.Len(t, out.writes, 2)
	assert.Equal(t, []geo.BlockRect{{X: 0, Y: 0, W: 10, H: 10}, {X: 10, Y: 0, W: 10, H: 10}}, out.writes)
	assert.False(t, aborted.Load())
}

func TestRunAbortsOnWriteFailure(t *testing.T) {
	grid := geo.GridSpec{DataType: geo.Byte, Width: 20, Height: 10}
	p := &plan.BlockPlan{
		Grid: grid, BlockSize: 10,
		Entries: []plan.BlockPlanEntry{
			{Obid: geo.OutputBlockId{Row: 0, Col: 0}, Tasks: []plan.ReadTask{{IID: 0, DstRect: geo.BlockRect{W: 10, H: 10}}}},
		},
	}
	var aborted atomic.Bool
	bc := cache.New(4, &aborted)
	bc.SetExpected(p.Entries[0].Obid, 1)
	bc.Publish(0, &cache.DecodedBlock{Obid: p.Entries[0].Obid, IID: 0, Buf: make([]byte, 100)})

	out := &recordingWriter{failAt: 1}
	errOnce := &errors.Once{}
	stats := Run(context.Background(), p, grid, out, 0, bc, &aborted, errOnce)

	assert.Error(t, errOnce.Err())
	assert.Equal(t, 0, stats.BlocksWritten)
	assert.True(t, aborted.Load())
}
