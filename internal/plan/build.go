// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"sort"

	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
)

// BuildPlan implements C3 (spec.md §4.3): it iterates output blocks in
// row-major order and, for each, lists the set of (input, rect)
// contributions in user-supplied input-list order (the mosaic priority
// contract).
//
// infos must be ordered exactly as the user supplied them on the command
// line / to DoMosaic: that order is InputID assignment order, and it is
// also the compositing priority order the writer (C7) relies on.
func BuildPlan(grid geo.GridSpec, infos []*rasterio.ImageInfo, blockSize int, repro geo.Reprojector, resampling geo.Resampling) (*BlockPlan, error) {
	if blockSize <= 0 {
		blockSize = 1024
	}
	for _, info := range infos {
		if info.Grid.NumBands() != grid.NumBands() {
			return nil, errtax.E(errtax.Metadata, "input band count does not match output grid",
				"input", info.Path, "input_bands", info.Grid.NumBands(), "output_bands", grid.NumBands())
		}
	}
	placements, err := computePlacements(grid, infos, repro)
	if err != nil {
		return nil, err
	}

	blockRows := geo.BlocksPerRowCount(grid.Height, blockSize)
	blockCols := geo.BlocksPerCol(grid.Width, blockSize)

	spans := make([]rowSpan, 0, len(infos))
	for i, p := range placements {
		fp := p.Footprint
		if fp.W <= 0 || fp.H <= 0 {
			continue // input falls entirely outside the chosen extent
		}
		firstRow := clampInt(fp.Y/blockSize, 0, blockRows)
		lastRow := clampInt((fp.Y+fp.H-1)/blockSize, -1, blockRows-1)
		if lastRow < firstRow {
			continue
		}
		spans = append(spans, rowSpan{inputIdx: i, firstRow: firstRow, limitRow: lastRow + 1})
	}
	ri := newRowIndex(spans)

	plan := &BlockPlan{Grid: grid, BlockSize: blockSize}
	for row := 0; row < blockRows; row++ {
		candidates := ri.activeAt(row)
		if len(candidates) == 0 {
			continue
		}
		sort.Ints(candidates) // restore user-list (InputID) priority order
		for col := 0; col < blockCols; col++ {
			obid := geo.OutputBlockId{Row: row, Col: col}
			outRect := geo.OutputBlockRect(obid, grid.Width, grid.Height, blockSize)
			var tasks []ReadTask
			for _, idx := range candidates {
				p := placements[idx]
				absOverlap, ok := outRect.Intersection(p.Footprint)
				if !ok {
					continue
				}
				dstRect := geo.BlockRect{
					X: absOverlap.X - outRect.X,
					Y: absOverlap.Y - outRect.Y,
					W: absOverlap.W,
					H: absOverlap.H,
				}
				srcRect := absOverlap
				if !p.NeedsReprojection {
					srcRect = geo.BlockRect{
						X: absOverlap.X - p.Footprint.X,
						Y: absOverlap.Y - p.Footprint.Y,
						W: absOverlap.W,
						H: absOverlap.H,
					}
				}
				tasks = append(tasks, ReadTask{
					Obid:    obid,
					IID:     rasterio.InputID(idx),
					SrcRect: srcRect,
					DstRect: dstRect,
				})
			}
			if len(tasks) == 0 {
				continue
			}
			if len(tasks) > plan.MaxContribsPerObid {
				plan.MaxContribsPerObid = len(tasks)
			}
			plan.Entries = append(plan.Entries, BlockPlanEntry{Obid: obid, Tasks: tasks})
		}
	}
	return plan, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
