// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

// FlatReadList is the concatenation of every BlockPlanEntry's ReadTask
// list, in plan order (spec.md's FlatReadList: outer by obid, inner by
// input-list order).
type FlatReadList []ReadTask

// Flatten builds p's FlatReadList.
func (p *BlockPlan) Flatten() FlatReadList {
	out := make(FlatReadList, 0, p.NumReadTasks())
	for _, e := range p.Entries {
		out = append(out, e.Tasks...)
	}
	return out
}

// Partition splits the FlatReadList into n subsequences by round-robin
// index assignment, assigned(t) = t mod n, implementing spec.md §4.4: the
// pivotal decision that spreads any one output block's contributions as
// evenly as possible across workers while preserving each worker's
// relative plan order. See spec.md §4.4's rationale comment for why this
// beats contiguous chunking: a stalled writer waiting on block k has a
// near-equal chance that any given worker holds the missing contribution,
// and a worker's own progression through its subsequence tracks the
// writer's progression through the plan.
func (l FlatReadList) Partition(n int) [][]ReadTask {
	if n <= 0 {
		n = 1
	}
	parts := make([][]ReadTask, n)
	for i, t := range l {
		w := i % n
		parts[w] = append(parts[w], t)
	}
	return parts
}
