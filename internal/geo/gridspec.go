// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package geo defines the pixel-grid data model shared by the mosaic
// planner, workers, and writer: GridSpec (projection + geotransform +
// dimensions), and the block/rect coordinate types used to address
// pixels within a grid.
package geo

import "fmt"

// DataType identifies the pixel storage type of a raster band. The values
// mirror the common GDAL raster data types; the rasterio package maps
// Provider-reported datatypes onto these.
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

// Size returns the size in bytes of one sample of d.
func (d DataType) Size() int {
	switch d {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case Byte:
		return "Byte"
	case UInt16:
		return "UInt16"
	case Int16:
		return "Int16"
	case UInt32:
		return "UInt32"
	case Int32:
		return "Int32"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// GeoTransform is the affine mapping from pixel space (col, row) to world
// coordinates (x, y):
//
//	x = Origin.X + col*PixelWidth  + row*RowRotation
//	y = Origin.Y + col*ColRotation + row*PixelHeight
//
// PixelHeight is conventionally negative (north-up rasters). Rotation terms
// are preserved verbatim from the source; the planner never computes them,
// only carries them through.
type GeoTransform struct {
	OriginX, OriginY           float64
	PixelWidth, PixelHeight    float64
	RowRotation, ColRotation   float64
}

// ToWorld maps a pixel-space coordinate to world coordinates.
func (g GeoTransform) ToWorld(col, row float64) (x, y float64) {
	x = g.OriginX + col*g.PixelWidth + row*g.RowRotation
	y = g.OriginY + col*g.ColRotation + row*g.PixelHeight
	return
}

// Invert returns the inverse affine transform, used to map world
// coordinates back to pixel space. Returns false if the transform is
// singular (degenerate pixel size), which is an invariant violation for any
// grid the resolver should have produced.
func (g GeoTransform) Invert() (inv GeoTransform, ok bool) {
	det := g.PixelWidth*g.PixelHeight - g.RowRotation*g.ColRotation
	if det == 0 {
		return GeoTransform{}, false
	}
	invDet := 1.0 / det
	inv.PixelWidth = g.PixelHeight * invDet
	inv.RowRotation = -g.RowRotation * invDet
	inv.ColRotation = -g.ColRotation * invDet
	inv.PixelHeight = g.PixelWidth * invDet
	inv.OriginX = -(g.OriginX*inv.PixelWidth + g.OriginY*inv.RowRotation)
	inv.OriginY = -(g.OriginX*inv.ColRotation + g.OriginY*inv.PixelHeight)
	return inv, true
}

// ToPixel maps a world coordinate back to fractional pixel space.
func (g GeoTransform) ToPixel(x, y float64) (col, row float64, ok bool) {
	inv, ok := g.Invert()
	if !ok {
		return 0, 0, false
	}
	col = inv.OriginX + x*inv.PixelWidth + y*inv.RowRotation
	row = inv.OriginY + x*inv.ColRotation + y*inv.PixelHeight
	return col, row, true
}

// GridSpec describes an output or input pixel grid: projection, affine
// geotransform, dimensions, pixel datatype and an optional nodata sentinel.
// Immutable after construction; safely shared by read-only reference across
// worker goroutines.
type GridSpec struct {
	// Projection is an opaque CRS token (WKT or "EPSG:n"); the rasterio
	// Provider is the only component that interprets it.
	Projection string
	Transform  GeoTransform
	Width      int
	Height     int
	DataType   DataType
	// Bands is the band count, read from the input during probing and
	// carried through to the output grid (spec.md §4.7: every band shares
	// one GridSpec's geometry, datatype, and nodata sentinel). Zero is
	// treated as 1 by callers that size buffers from it.
	Bands int
	// HasNodata and Nodata describe the single nodata sentinel used by
	// first-hit-wins compositing. Per spec, masks/alpha are out of scope:
	// there is exactly one nodata value for the whole grid, shared by
	// every band.
	HasNodata bool
	Nodata    float64
}

// NumBands returns g.Bands, floored at 1: a zero-value GridSpec (as built
// by tests that don't care about band count) still describes one band.
func (g GridSpec) NumBands() int {
	if g.Bands <= 0 {
		return 1
	}
	return g.Bands
}

func (g GridSpec) String() string {
	return fmt.Sprintf("GridSpec{%dx%d, bands=%d, dtype=%s, nodata=%v(%v), transform=%+v}",
		g.Width, g.Height, g.NumBands(), g.DataType, g.Nodata, g.HasNodata, g.Transform)
}

// Bounds returns the world-space bounding box of the grid's four corners.
// Rotation terms mean the true footprint may not be axis-aligned; callers
// that need axis-aligned extents should use corner+midpoint sampling (see
// ResolveGrid) rather than this convenience helper.
func (g GridSpec) Bounds() (minX, minY, maxX, maxY float64) {
	corners := [4][2]float64{
		{0, 0},
		{float64(g.Width), 0},
		{0, float64(g.Height)},
		{float64(g.Width), float64(g.Height)},
	}
	first := true
	for _, c := range corners {
		x, y := g.Transform.ToWorld(c[0], c[1])
		if first {
			minX, maxX = x, x
			minY, maxY = y, y
			first = false
			continue
		}
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return
}

// SameGrid reports whether g and other share projection and pixel size,
// i.e. whether an input with grid "other" can be read natively into a
// mosaic whose output grid is g without an intervening reprojection view.
func (g GridSpec) SameGrid(other GridSpec) bool {
	return g.Projection == other.Projection &&
		g.Transform.PixelWidth == other.Transform.PixelWidth &&
		g.Transform.PixelHeight == other.Transform.PixelHeight &&
		g.Transform.RowRotation == other.Transform.RowRotation &&
		g.Transform.ColRotation == other.Transform.ColRotation
}
