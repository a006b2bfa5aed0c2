// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rasterio defines the raster I/O provider interface consumed by
// the mosaic core (spec.md §6 "I/O provider interface (consumed)"), an
// ImageInfo cache built on top of it (C1), and a concrete implementation
// backed by github.com/airbusgeo/godal.
package rasterio

import (
	"context"

	"github.com/grailbio/mosaic/internal/geo"
)

// InputID identifies one input raster by its position in the user-supplied
// input list. Position, not path, is the identity the rest of the core
// reasons about: it is also the mosaic priority rank (spec.md §4.3).
type InputID int

// ImageInfo holds per-input metadata computed once during probing and
// shared read-only across worker goroutines thereafter. Immutable.
type ImageInfo struct {
	ID   InputID
	Path string
	Grid geo.GridSpec
	// NativeBlockSize is the input file's own internal tiling/strip size,
	// as reported by Probe. Zero means "no preferred alignment." Read
	// workers do not consult it; reads follow the plan's src-rects.
	NativeBlockSize int
	// SizeBytes is a probing-time size hint in bytes. Neither the
	// scheduler nor the Monitor reads it.
	SizeBytes int64
}

// Reader is a handle to one open input, either reading its native pixel
// grid or a reprojected on-the-fly view already resampled into the output
// grid (spec.md §6's open_read(id, grid?)). Readers are not safe for
// concurrent use and must not be shared across goroutines (spec.md §4.6,
// §5's "I/O library handles... strictly per-thread").
type Reader interface {
	// ReadBlock reads the rectangle rect, in this Reader's own pixel
	// space (native, or reprojected-view/output-grid space if this
	// Reader was opened with a target grid), into a newly allocated
	// buffer.
	ReadBlock(ctx context.Context, rect geo.BlockRect) ([]byte, error)
	Close() error
}

// Writer is a handle to the single output file, written exclusively by
// the writer goroutine (spec.md §4.7).
type Writer interface {
	// WriteBlock writes buf to band, covering rect in output-grid pixel
	// space. band is 0-based; for a single-band output it is always 0.
	WriteBlock(ctx context.Context, rect geo.BlockRect, band int, buf []byte) error
	Close() error
}

// Provider is the raster I/O provider interface spec.md §6 requires: it
// opens files, reports metadata, reads blocks, opens reprojecting views,
// and creates/writes the output. Exactly one Provider value is shared
// read-only across all goroutines; per spec.md §4.6/§5, any handles it
// opens (Reader/Writer) are not themselves shared.
type Provider interface {
	// Probe opens path and reports its metadata without keeping a handle
	// open across calls (C1).
	Probe(ctx context.Context, path string) (geo.GridSpec, int, int64, error)

	// OpenNative opens path for reads of band (0-based) in its own native
	// pixel grid. spec.md §4.7's multi-band re-execution calls this once
	// per band per ReadTask, reusing the same plan across bands.
	OpenNative(ctx context.Context, path string, band int) (Reader, error)

	// OpenReprojected opens path as a view of band resampled on-the-fly
	// into target, using the given resampling method. Subsequent
	// ReadBlock calls on the returned Reader address rectangles in
	// target's pixel space directly.
	OpenReprojected(ctx context.Context, path string, target geo.GridSpec, resampling geo.Resampling, band int) (Reader, error)

	// Transform implements geo.Reprojector, letting the output grid
	// resolver (C2) use the same CRS machinery as block reads.
	Transform(srcProjection, dstProjection string, x, y float64) (dx, dy float64, err error)

	// CreateOutput creates the output raster file at path with the given
	// grid, GDAL driver short name, and ordered creation options
	// (--co K=V, passed through opaque per spec.md §9).
	CreateOutput(ctx context.Context, path string, grid geo.GridSpec, driver string, creationOptions []string) (Writer, error)

	// RemoveOutput deletes a partially-written output file after an
	// aborted run (spec.md §5's cancellation behavior).
	RemoveOutput(ctx context.Context, path string) error
}
