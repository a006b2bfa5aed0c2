// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import "sort"

// This file adapts interval/endpoint_index.go's sorted-endpoint search
// (originally used to scan BED/BAM interval-unions along a genomic
// coordinate) to the plan builder's "which inputs intersect output block
// row R" query: instead of a 1-D position along a chromosome, PosType here
// is a block-row index along the output grid, and the endpoints it
// searches are an input's [firstRow, lastRow+1) span of block rows.
//
// Sorting the spans by firstRow lets each activeAt query binary-search
// away every input whose span starts after the queried row. The spans
// that start at or before it are still scanned one by one, so a full
// BuildPlan sweep remains O(numBlockRows * numInputs) in the worst case
// (every span starting at row 0).

// PosType is the coordinate type for row-index searches: a block-row
// index, or a block-row index one-past-the-end of an input's span.
type PosType = int

// rowSpan is one input's footprint expressed as a half-open range of
// output block-rows, [FirstRow, LastRow+1).
type rowSpan struct {
	inputIdx      int
	firstRow, limitRow PosType
}

// rowIndex answers "which inputs have a footprint touching block-row r"
// queries in row-major sweep order, without rescanning every input for
// every row.
type rowIndex struct {
	spans []rowSpan
}

// newRowIndex builds a rowIndex from the per-input block-row spans,
// sorted by firstRow, the order activeAt's binary search requires.
func newRowIndex(spans []rowSpan) *rowIndex {
	sorted := make([]rowSpan, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].firstRow < sorted[j].firstRow })
	return &rowIndex{spans: sorted}
}

// activeAt returns the inputIdx of every span whose [firstRow, limitRow)
// contains r, in ascending firstRow order (which is also ascending
// inputIdx order only if the caller's input list order matches firstRow
// order; BuildPlan re-sorts the result by inputIdx before using it, to
// preserve the user-supplied priority order spec.md §4.3 requires).
func (ri *rowIndex) activeAt(r PosType) []int {
	// search for the first span whose firstRow > r; every span before
	// that index either contains r or ended before it.
	hi := sort.Search(len(ri.spans), func(i int) bool { return ri.spans[i].firstRow > r })
	var out []int
	for i := 0; i < hi; i++ {
		if ri.spans[i].limitRow > r {
			out = append(out, ri.spans[i].inputIdx)
		}
	}
	return out
}
