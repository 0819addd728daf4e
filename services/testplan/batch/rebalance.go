// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"sort"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/graph"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// rebalance makes one greedy merge pass over the drafts.
//
// Description:
//
//	Drafts are stable-sorted by total duration, longest first. Walking the
//	sorted list, the accumulator absorbs the next draft when canMerge
//	allows it; otherwise the accumulator is emitted and the next draft
//	becomes the accumulator. Merged results are not revisited.
//
// Outputs:
//   - []*draft: Drafts in output order.
//   - int: Number of merges performed.
func rebalance(drafts []*draft, g *graph.Graph, opts Options) ([]*draft, int) {
	if len(drafts) < 2 {
		return drafts, 0
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].durationMs > drafts[j].durationMs
	})

	out := make([]*draft, 0, len(drafts))
	merged := 0
	acc := drafts[0]
	for _, next := range drafts[1:] {
		if canMerge(acc, next, g, opts) {
			acc = &draft{
				group:      acc.group,
				units:      append(append([]*testunit.TestUnit(nil), acc.units...), next.units...),
				durationMs: acc.durationMs + next.durationMs,
			}
			merged++
			continue
		}
		out = append(out, acc)
		acc = next
	}
	out = append(out, acc)
	return out, merged
}

// canMerge reports whether two drafts can become one batch without
// breaking the size, duration, dependency or resource constraints. Drafts
// from different predefined groups never merge.
func canMerge(a, b *draft, g *graph.Graph, opts Options) bool {
	if a.group != b.group {
		return false
	}
	if len(a.units)+len(b.units) > opts.MaxBatchSize {
		return false
	}
	if a.durationMs+b.durationMs > opts.MaxBatchDurationMs {
		return false
	}
	for _, x := range a.units {
		for _, y := range b.units {
			if !g.Independent(x.Key, y.Key) {
				return false
			}
			if opts.ResourceAware && testunit.SharesExternal(x, y) {
				return false
			}
		}
	}
	return true
}
