// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package plan builds the static, immutable work schedule the rest of the
// mosaic core executes against: the block plan (C3), its flattening into
// a single ordered read-task list, and that list's deterministic
// partitioning across N workers (C4).
package plan

import (
	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
)

// ReadTask is one input's contribution to one output block (spec.md's
// ReadTask: obid, iid, src-rect, dst-rect).
type ReadTask struct {
	Obid InputBlockPair
	IID  rasterio.InputID
	// SrcRect is in the input's native pixel space if the input is read
	// natively, else in the reprojected-view space (which coincides with
	// the output grid).
	SrcRect geo.BlockRect
	// DstRect is always in output-grid coordinates relative to Obid's
	// top-left.
	DstRect geo.BlockRect
}

// InputBlockPair documents that a ReadTask's Obid is always a
// geo.OutputBlockId; it is a type alias so call sites read naturally as
// task.Obid.Row, etc.
type InputBlockPair = geo.OutputBlockId

// BlockPlanEntry is one (obid, ordered read-task list) entry of the plan.
// Tasks are ordered by input-list priority (spec.md §4.3's compositing
// contract), not by any read-cost heuristic.
type BlockPlanEntry struct {
	Obid  geo.OutputBlockId
	Tasks []ReadTask
}

// BlockPlan is the full, immutable, row-major-ordered schedule (spec.md's
// BlockPlan). Once built it is never mutated; it is shared by read-only
// reference across every worker and the writer.
type BlockPlan struct {
	Grid      geo.GridSpec
	BlockSize int
	Entries   []BlockPlanEntry
	// MaxContribsPerObid is the largest per-obid task-list length seen in
	// the plan, reported in the Monitor's plan summary (spec.md §8's cache
	// bound invariant references it). The cache's own bound depends only
	// on the look-ahead window.
	MaxContribsPerObid int
}

// NumBlocks returns the number of entries (== number of output blocks
// that have at least one contributing input).
func (p *BlockPlan) NumBlocks() int { return len(p.Entries) }

// NumReadTasks returns the total count of read tasks across all entries,
// i.e. the length of the FlatReadList.
func (p *BlockPlan) NumReadTasks() int {
	n := 0
	for _, e := range p.Entries {
		n += len(e.Tasks)
	}
	return n
}
