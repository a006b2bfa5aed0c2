// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"math"

	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
)

// Placement locates one input's full extent within the output grid's
// absolute pixel space (spec.md §4.3 step 1's "determine which inputs
// intersect R_out", computed once per input rather than once per block).
type Placement struct {
	// Footprint is the input's entire extent, in absolute output-grid
	// pixel coordinates. It is deliberately not clipped to [0,W)x[0,H):
	// clipping happens per-obid, against Footprint intersected with each
	// block's rectangle, so the unclipped value still gives the correct
	// offset for native (non-reprojected) src-rect math.
	Footprint geo.BlockRect
	// NeedsReprojection is true when the input's native grid differs
	// from the output grid (projection or pixel size), in which case
	// reads are served through a reprojection view already in
	// output-grid pixel space (spec.md §4.2's last paragraph).
	NeedsReprojection bool
}

// computePlacements locates every input's footprint within the output
// grid, via corner+midpoint world-space sampling transformed into the
// output projection (the same technique ResolveGrid uses for the union
// extent, applied here per-input instead of accumulated).
func computePlacements(grid geo.GridSpec, infos []*rasterio.ImageInfo, repro geo.Reprojector) ([]Placement, error) {
	placements := make([]Placement, len(infos))
	for i, info := range infos {
		needsReproj := !grid.SameGrid(info.Grid)
		var minX, minY, maxX, maxY float64
		first := true
		for _, p := range cornerSamples(info.Grid.Width, info.Grid.Height) {
			wx, wy := info.Grid.Transform.ToWorld(p[0], p[1])
			tx, ty := wx, wy
			if info.Grid.Projection != grid.Projection {
				var err error
				tx, ty, err = repro.Transform(info.Grid.Projection, grid.Projection, wx, wy)
				if err != nil {
					return nil, err
				}
			}
			if first {
				minX, maxX, minY, maxY = tx, tx, ty, ty
				first = false
				continue
			}
			minX, maxX = math.Min(minX, tx), math.Max(maxX, tx)
			minY, maxY = math.Min(minY, ty), math.Max(maxY, ty)
		}
		col0, row0, ok := grid.Transform.ToPixel(minX, maxY)
		col1, row1, ok2 := grid.Transform.ToPixel(maxX, minY)
		if !ok || !ok2 {
			return nil, errSingularTransform
		}
		x0 := int(math.Floor(col0 + 0.5))
		y0 := int(math.Floor(row0 + 0.5))
		x1 := int(math.Floor(col1 + 0.5))
		y1 := int(math.Floor(row1 + 0.5))
		footprint := geo.BlockRect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
		if !needsReproj {
			// Exact (not approximated) same-grid alignment: derive the
			// integer pixel offset directly from the two origins rather
			// than from rounded corner samples, since a same-grid input
			// must land on exact pixel boundaries.
			ox, oy, ok := grid.Transform.ToPixel(info.Grid.Transform.OriginX, info.Grid.Transform.OriginY)
			if !ok {
				return nil, errSingularTransform
			}
			footprint = geo.BlockRect{
				X: int(math.Round(ox)),
				Y: int(math.Round(oy)),
				W: info.Grid.Width,
				H: info.Grid.Height,
			}
		}
		placements[i] = Placement{Footprint: footprint, NeedsReprojection: needsReproj}
	}
	return placements, nil
}

func cornerSamples(width, height int) [][2]float64 {
	w, h := float64(width), float64(height)
	return [][2]float64{
		{0, 0}, {w, 0}, {0, h}, {w, h},
		{w / 2, 0}, {w / 2, h}, {0, h / 2}, {w, h / 2},
	}
}

type planError string

func (e planError) Error() string { return string(e) }

const errSingularTransform = planError("plan: output grid transform is not invertible")
