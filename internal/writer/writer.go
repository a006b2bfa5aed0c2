// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package writer implements C7: the single writer goroutine that drains
// completed output blocks from the cache, composites their contributions
// in priority order with first-hit-wins semantics, and writes the result
// to the output raster. It is the sole mutator of the output file and
// holds no read-worker handle of its own.
package writer

import (
	"context"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/mosaic/internal/cache"
	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/plan"
	"github.com/grailbio/mosaic/internal/rasterio"
	"v.io/x/lib/vlog"
)

// Stats accumulates per-run counters the Monitor (C8) reports; fields are
// written only by the writer goroutine.
type Stats struct {
	BlocksWritten int
	PixelsBlended int64
	BytesWritten  int64
	WaitOnQueueNS int64
}

// Run walks plan p's entries in row-major order, pulling each entry's
// completed contributions from bc, compositing them, and writing the
// result to band of out. It returns on the first error, or early if
// aborted becomes true (set by a failed worker), in which case the output
// file is left partially written for the caller to remove (spec.md §5).
// band is 0-based; spec.md §4.7's multi-band re-execution calls Run once
// per band, reusing the same plan and cache shape each time.
//
// Ordered composition, not merge-then-sort: entries are already
// row-major (plan.BlockPlan's invariant), so the writer never needs to
// buffer more than one block at a time, matching the look-ahead-bounded
// memory property spec.md §8 requires.
func Run(ctx context.Context, p *plan.BlockPlan, outGrid geo.GridSpec, out rasterio.Writer, band int, bc *cache.BlockCache, aborted *atomic.Bool, errOnce *errors.Once) Stats {
	var stats Stats
	blocksPerRow := geo.BlocksPerCol(outGrid.Width, p.BlockSize)

	for seq, entry := range p.Entries {
		if aborted.Load() {
			vlog.Infof("writer: aborting after %d/%d blocks", seq, len(p.Entries))
			return stats
		}
		contribs, waited, ok := bc.TakeAllFor(entry.Obid, entry.Obid.Seq(blocksPerRow))
		stats.WaitOnQueueNS += waited.Nanoseconds()
		if !ok {
			return stats // aborted while waiting
		}

		outRect := geo.OutputBlockRect(entry.Obid, outGrid.Width, outGrid.Height, p.BlockSize)
		buf := compose(outGrid, outRect, entry.Tasks, contribs)

		if err := out.WriteBlock(ctx, outRect, band, buf); err != nil {
			errOnce.Set(errtax.E(errtax.Write, err, "writer: write block", "obid", entry.Obid, "band", band))
			aborted.Store(true)
			bc.Advance(entry.Obid.Seq(blocksPerRow))
			bc.Abort()
			return stats
		}

		stats.BlocksWritten++
		stats.PixelsBlended += int64(outRect.W) * int64(outRect.H)
		stats.BytesWritten += int64(len(buf))
		bc.Advance(entry.Obid.Seq(blocksPerRow))

		if seq > 0 && seq%200 == 0 {
			vlog.Infof("writer: wrote %d/%d blocks", seq, len(p.Entries))
		}
	}
	vlog.Infof("writer: done, %d blocks", stats.BlocksWritten)
	return stats
}

// compose fills a buffer for outRect with outGrid's nodata sentinel
// (spec.md §4.7's "start with a nodata-filled buffer"), then overlays
// each task's contribution in entry.Tasks order (user-list priority),
// writing a destination pixel only the first time it is touched by a
// non-nodata source sample ("first-hit-wins": spec.md §4.1's compositing
// rule). A destination pixel already set by a higher-priority input is
// never revisited even if a later input also has data there.
func compose(outGrid geo.GridSpec, outRect geo.BlockRect, tasks []plan.ReadTask, contribs map[rasterio.InputID]*cache.DecodedBlock) []byte {
	sampleSize := outGrid.DataType.Size()
	buf := make([]byte, outRect.W*outRect.H*sampleSize)
	filled := make([]bool, outRect.W*outRect.H)

	nodataBytes := encodeNodata(outGrid)
	for i := 0; i < outRect.W*outRect.H; i++ {
		copy(buf[i*sampleSize:(i+1)*sampleSize], nodataBytes)
	}

	for _, t := range tasks {
		blk, ok := contribs[t.IID]
		if !ok {
			continue // zero-area contribution never published; nothing to blend
		}
		for y := 0; y < t.DstRect.H; y++ {
			for x := 0; x < t.DstRect.W; x++ {
				di := (t.DstRect.Y+y)*outRect.W + (t.DstRect.X + x)
				if di < 0 || di >= len(filled) || filled[di] {
					continue
				}
				si := (y*t.DstRect.W + x) * sampleSize
				if si+sampleSize > len(blk.Buf) {
					continue
				}
				sample := blk.Buf[si : si+sampleSize]
				if outGrid.HasNodata && isNodata(sample, outGrid.DataType, outGrid.Nodata) {
					continue
				}
				copy(buf[di*sampleSize:(di+1)*sampleSize], sample)
				filled[di] = true
			}
		}
	}
	return buf
}
