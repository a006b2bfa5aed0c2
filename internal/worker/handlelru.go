// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package worker implements the read-worker side of the pipeline (C6):
// each worker owns a private handle LRU and walks its partition of the
// flattened read list in order, publishing decoded blocks to the shared
// cache.
package worker

import (
	"container/list"
	"context"

	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
)

// DefaultHandleCacheSize is K in spec.md §4.6/§5: the number of open
// Reader handles a single worker keeps resident before evicting the
// least-recently-used one. Grounded on bamprovider.BAMProvider's
// allocateIterator/freeIterator pool, generalized from "reuse from a
// shared free list" to "keep a small bounded per-thread LRU," since
// spec.md requires handles to be strictly per-thread rather than pooled
// across threads.
const DefaultHandleCacheSize = 8

type handleKey struct {
	iid         rasterio.InputID
	band        int
	reprojected bool
}

type handleEntry struct {
	key    handleKey
	reader rasterio.Reader
}

// handleLRU is a bounded, per-worker cache of open rasterio.Reader
// handles. It is not safe for concurrent use; each worker goroutine owns
// exactly one.
type handleLRU struct {
	provider rasterio.Provider
	infos    map[rasterio.InputID]*rasterio.ImageInfo
	outGrid  geo.GridSpec
	resample geo.Resampling
	capacity int

	ll    *list.List // front = most recently used
	elems map[handleKey]*list.Element
	opens int // cumulative Open* calls, for the HandleOpens monitor counter
}

func newHandleLRU(provider rasterio.Provider, infos map[rasterio.InputID]*rasterio.ImageInfo, outGrid geo.GridSpec, resample geo.Resampling, capacity int) *handleLRU {
	if capacity <= 0 {
		capacity = DefaultHandleCacheSize
	}
	return &handleLRU{
		provider: provider,
		infos:    infos,
		outGrid:  outGrid,
		resample: resample,
		capacity: capacity,
		ll:       list.New(),
		elems:    make(map[handleKey]*list.Element),
	}
}

// get returns an open Reader for band band of iid, opened native if the
// input shares the output grid's projection and pixel size
// (GridSpec.SameGrid), or as a reprojected view otherwise (spec.md §4.2). It evicts the least-recently-used handle
// when opening a new one would exceed capacity. Each distinct (iid, band)
// pair gets its own LRU slot, since spec.md §4.7's multi-band re-execution
// opens a fresh Reader per band.
func (h *handleLRU) get(ctx context.Context, iid rasterio.InputID, band int) (rasterio.Reader, error) {
	info := h.infos[iid]
	needsReproj := !h.outGrid.SameGrid(info.Grid)
	k := handleKey{iid: iid, band: band, reprojected: needsReproj}

	if el, ok := h.elems[k]; ok {
		h.ll.MoveToFront(el)
		return el.Value.(*handleEntry).reader, nil
	}

	var r rasterio.Reader
	var err error
	if needsReproj {
		r, err = h.provider.OpenReprojected(ctx, info.Path, h.outGrid, h.resample, band)
	} else {
		r, err = h.provider.OpenNative(ctx, info.Path, band)
	}
	if err != nil {
		return nil, err
	}
	h.opens++

	if h.ll.Len() >= h.capacity {
		h.evictOldest()
	}
	el := h.ll.PushFront(&handleEntry{key: k, reader: r})
	h.elems[k] = el
	return r, nil
}

// openCount returns the cumulative number of Open* calls this LRU has made,
// for the worker's HandleOpens monitor counter.
func (h *handleLRU) openCount() int { return h.opens }

func (h *handleLRU) evictOldest() {
	back := h.ll.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*handleEntry)
	entry.reader.Close() // best-effort; a close failure here must not abort the worker
	h.ll.Remove(back)
	delete(h.elems, entry.key)
}

// closeAll closes every resident handle, used when a worker finishes its
// partition or unwinds after an abort.
func (h *handleLRU) closeAll() {
	for el := h.ll.Front(); el != nil; el = el.Next() {
		el.Value.(*handleEntry).reader.Close()
	}
	h.ll.Init()
	h.elems = make(map[handleKey]*list.Element)
}
