// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package geo

import (
	"math"

	"github.com/grailbio/mosaic/internal/errtax"
)

// Resampling names the resampling method applied when reprojecting an
// input into the output grid. The values are GDAL's own resampling names
// (spec.md's --resample option), validated here rather than left as a free
// string so an unknown method is a Usage error, not a late Read error.
type Resampling string

const (
	Near        Resampling = "near"
	Bilinear    Resampling = "bilinear"
	Cubic       Resampling = "cubic"
	CubicSpline Resampling = "cubicspline"
	Lanczos     Resampling = "lanczos"
	Average     Resampling = "average"
	Mode        Resampling = "mode"
)

var validResampling = map[Resampling]bool{
	Near: true, Bilinear: true, Cubic: true, CubicSpline: true,
	Lanczos: true, Average: true, Mode: true,
}

// ParseResampling validates s as a Resampling, defaulting to Near when s is
// empty.
func ParseResampling(s string) (Resampling, error) {
	if s == "" {
		return Near, nil
	}
	r := Resampling(s)
	if !validResampling[r] {
		return "", errtax.E(errtax.Usage, "unknown resampling method", "method", s)
	}
	return r, nil
}

// Input is the subset of an ImageInfo the resolver needs: its native grid,
// keyed by an opaque input identifier for error reporting.
type Input struct {
	ID   string
	Grid GridSpec
}

// Options controls output grid resolution (spec.md §4.2, CLI
// --outprojepsg/--outprojwktfile/--xres/--yres/--resample).
type Options struct {
	// TargetProjection, if nonempty, overrides the union projection (which
	// otherwise defaults to the first input's projection).
	TargetProjection string
	// TargetXRes/TargetYRes override the output pixel size. Zero means
	// "use the first input's pixel size in the target projection."
	TargetXRes, TargetYRes float64
	Resampling             Resampling
}

// cornerSamples returns sample points (in the input's own pixel space) used
// to approximate the input's footprint under a (possibly nonlinear)
// reprojection: the four corners plus the four edge midpoints, per
// spec.md §4.2's "at least corners + midpoints... to guard against
// non-affine edges."
func cornerSamples(width, height int) [][2]float64 {
	w, h := float64(width), float64(height)
	return [][2]float64{
		{0, 0}, {w, 0}, {0, h}, {w, h},
		{w / 2, 0}, {w / 2, h}, {0, h / 2}, {w, h / 2},
	}
}

// Reprojector transforms a world-space point from one projection to
// another. The geo package only consumes this interface; the rasterio
// Provider supplies the concrete implementation (GDAL's coordinate
// transform), since geo has no notion of CRS machinery itself.
type Reprojector interface {
	// Transform maps (x, y) in srcProjection to the equivalent point in
	// dstProjection.
	Transform(srcProjection, dstProjection string, x, y float64) (dx, dy float64, err error)
}

// ResolveGrid computes the output GridSpec from a set of inputs and
// options, per spec.md §4.2:
//   - union projection defaults to the first input's; all others are
//     reprojected into it via repro.
//   - output extent is the union of each input's footprint (approximated
//     by corner+midpoint sampling), transformed into the target
//     projection.
//   - output pixel size defaults to the first input's pixel size in the
//     target projection; TargetXRes/TargetYRes override.
//   - width/height are ceil(extent-size / pixel-size); origin is snapped
//     outward to a pixel boundary at the top-left of the union.
//
// inputs must be nonempty; ResolveGrid does not itself decide which
// inputs need an on-the-fly reprojection view (that is
// rasterio.OpenReprojected's job, driven by GridSpec.SameGrid against the
// result here).
func ResolveGrid(inputs []Input, opts Options, repro Reprojector) (*GridSpec, error) {
	if len(inputs) == 0 {
		return nil, errtax.E(errtax.Usage, "ResolveGrid: no inputs")
	}
	targetProj := opts.TargetProjection
	if targetProj == "" {
		targetProj = inputs[0].Grid.Projection
	}

	var minX, minY, maxX, maxY float64
	first := true
	for _, in := range inputs {
		for _, p := range cornerSamples(in.Grid.Width, in.Grid.Height) {
			wx, wy := in.Grid.Transform.ToWorld(p[0], p[1])
			tx, ty := wx, wy
			if in.Grid.Projection != targetProj {
				var err error
				tx, ty, err = repro.Transform(in.Grid.Projection, targetProj, wx, wy)
				if err != nil {
					return nil, errtax.E(errtax.Geometry, err, "reprojecting extent of input", "input", in.ID)
				}
			}
			if first {
				minX, maxX, minY, maxY = tx, tx, ty, ty
				first = false
				continue
			}
			if tx < minX {
				minX = tx
			}
			if tx > maxX {
				maxX = tx
			}
			if ty < minY {
				minY = ty
			}
			if ty > maxY {
				maxY = ty
			}
		}
	}

	xres, yres := opts.TargetXRes, opts.TargetYRes
	if xres == 0 || yres == 0 {
		defXRes, defYRes, err := firstInputPixelSize(inputs[0], targetProj, repro)
		if err != nil {
			return nil, err
		}
		if xres == 0 {
			xres = defXRes
		}
		if yres == 0 {
			yres = defYRes
		}
	}
	if xres <= 0 || yres <= 0 {
		return nil, errtax.E(errtax.Geometry, "ResolveGrid: non-positive pixel size", "xres", xres, "yres", yres)
	}

	// Snap the origin to a pixel boundary at the top-left of the bounding
	// union, rounding outward so every input's extent is fully covered.
	originX := math.Floor(minX/xres) * xres
	originY := math.Ceil(maxY/yres) * yres

	width := int(math.Ceil((maxX - originX) / xres))
	height := int(math.Ceil((originY - minY) / yres))
	if width <= 0 || height <= 0 {
		return nil, errtax.E(errtax.Geometry, "ResolveGrid: degenerate output extent", "width", width, "height", height)
	}

	grid := &GridSpec{
		Projection: targetProj,
		Transform: GeoTransform{
			OriginX:     originX,
			OriginY:     originY,
			PixelWidth:  xres,
			PixelHeight: -yres,
		},
		Width:     width,
		Height:    height,
		DataType:  inputs[0].Grid.DataType,
		Bands:     inputs[0].Grid.NumBands(),
		HasNodata: inputs[0].Grid.HasNodata,
		Nodata:    inputs[0].Grid.Nodata,
	}
	return grid, nil
}

// firstInputPixelSize returns the first input's pixel size, expressed in
// target-projection units. When the input is already in the target
// projection this is exact; otherwise it is approximated by measuring a
// single pixel step at the input's origin, which is adequate for choosing
// a default output resolution (not for geometry-critical computation).
func firstInputPixelSize(in Input, targetProj string, repro Reprojector) (xres, yres float64, err error) {
	g := in.Grid
	if g.Projection == targetProj {
		return math.Abs(g.Transform.PixelWidth), math.Abs(g.Transform.PixelHeight), nil
	}
	x0, y0 := g.Transform.ToWorld(0, 0)
	x1, y1 := g.Transform.ToWorld(1, 0)
	x2, y2 := g.Transform.ToWorld(0, 1)
	tx0, ty0, err := repro.Transform(g.Projection, targetProj, x0, y0)
	if err != nil {
		return 0, 0, err
	}
	tx1, ty1, err := repro.Transform(g.Projection, targetProj, x1, y1)
	if err != nil {
		return 0, 0, err
	}
	tx2, ty2, err := repro.Transform(g.Projection, targetProj, x2, y2)
	if err != nil {
		return 0, 0, err
	}
	xres = math.Hypot(tx1-tx0, ty1-ty0)
	yres = math.Hypot(tx2-tx0, ty2-ty0)
	return xres, yres, nil
}
