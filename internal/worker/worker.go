// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package worker

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

// Config bundles the read-only state every worker needs; one Config is
// shared (read-only) across all worker goroutines, per spec.md §4.6's
// "Provider is shared; per-thread state (handle LRU) is not."
type Config struct {
	Provider     rasterio.Provider
	Infos        map[rasterio.InputID]*rasterio.ImageInfo
	OutGrid      geo.GridSpec
	Resampling   geo.Resampling
	BlocksPerRow int
	HandleCache  int // 0 means DefaultHandleCacheSize
	// Band is the 0-based band this worker's partition reads for, set anew
	// for every pass of spec.md §4.7's per-band re-execution loop.
	Band int
}

// Stats accumulates one worker's counters for one band pass, reported to
// the Monitor (C8) after Run returns.
type Stats struct {
	TasksRead     int
	BytesRead     int64
	HandleOpens   int
	WaitOnCacheNS int64
}

// Run executes one worker's partition of the flattened read list in
// order (spec.md §4.6): for each ReadTask it opens (or reuses from its
// private LRU) a Reader for the task's input, reads DstRect-sized pixels
// from SrcRect, and publishes the decoded block to the cache. It stops
// at the first error or abort signal, recording the error via errOnce so
// that only the first failure among all workers is surfaced (mirrors
// converter.convertShard's errors.Once pattern).
//
// id is used only for logging, including a progress line every 64 tasks
// the way converter.go's vlog.Infof does for shard conversion.
func Run(ctx context.Context, id int, cfg Config, partition []plan.ReadTask, bc *cache.BlockCache, aborted *atomic.Bool, errOnce *errors.Once) Stats {
	lru := newHandleLRU(cfg.Provider, cfg.Infos, cfg.OutGrid, cfg.Resampling, cfg.HandleCache)
	defer lru.closeAll()

	var stats Stats
	const logEvery = 64
	for i, t := range partition {
		if aborted.Load() {
			vlog.Infof("worker %d: aborting after %d/%d tasks", id, i, len(partition))
			stats.HandleOpens = lru.openCount()
			return stats
		}
		r, err := lru.get(ctx, t.IID, cfg.Band)
		if err != nil {
			errOnce.Set(errtax.E(errtax.Read, err, "worker", "input", t.IID))
			aborted.Store(true)
			bc.Abort()
			stats.HandleOpens = lru.openCount()
			return stats
		}
		buf, err := r.ReadBlock(ctx, t.SrcRect)
		if err != nil {
			errOnce.Set(errtax.E(errtax.Read, err, "worker: read block", "input", t.IID, "rect", t.SrcRect))
			aborted.Store(true)
			bc.Abort()
			stats.HandleOpens = lru.openCount()
			return stats
		}
		waited := bc.Publish(t.Obid.Seq(cfg.BlocksPerRow), &cache.DecodedBlock{
			Obid: t.Obid,
			IID:  t.IID,
			Rect: t.DstRect,
			Buf:  buf,
		})
		stats.TasksRead++
		stats.BytesRead += int64(len(buf))
		stats.WaitOnCacheNS += waited.Nanoseconds()
		if i > 0 && i%logEvery == 0 {
			vlog.Infof("worker %d: published %d/%d tasks", id, i, len(partition))
		}
	}
	stats.HandleOpens = lru.openCount()
	vlog.Infof("worker %d: done, %d tasks", id, len(partition))
	return stats
}
