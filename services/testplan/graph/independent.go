// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sort"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// FindIndependentGroup grows a group of mutually independent units from seed.
//
// Description:
//
//	Breadth-first expansion. A dequeued unit joins the group only if it has
//	no direct edge, in either direction, with every current member. Each
//	accepted unit is marked processed and enqueues every unit of all that
//	is not yet visited, not processed, and independent of that member.
//	A unit rejected by the group check is not reconsidered in this call but
//	stays unprocessed for later groups.
//
//	This is a greedy, order-dependent approximation. It never produces a
//	group with an internal edge, but it does not look for the largest
//	possible group.
//
// Inputs:
//   - seed: First member. Ignored (nil result) if already processed.
//   - all: Candidate units in priority order.
//   - processed: Unit keys already assigned to a group. Updated in place.
//
// Outputs:
//   - []*testunit.TestUnit: Group members in acceptance order, seed first.
func (g *Graph) FindIndependentGroup(seed *testunit.TestUnit, all []*testunit.TestUnit, processed map[string]bool) []*testunit.TestUnit {
	if seed == nil || processed[seed.Key] {
		return nil
	}

	var group []*testunit.TestUnit
	visited := map[string]bool{seed.Key: true}
	queue := []*testunit.TestUnit{seed}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if processed[current.Key] || !g.compatibleWithGroup(current, group) {
			continue
		}

		group = append(group, current)
		processed[current.Key] = true

		for _, candidate := range all {
			if candidate == nil || visited[candidate.Key] || processed[candidate.Key] {
				continue
			}
			if g.Independent(current.Key, candidate.Key) {
				visited[candidate.Key] = true
				queue = append(queue, candidate)
			}
		}
	}

	return group
}

func (g *Graph) compatibleWithGroup(u *testunit.TestUnit, group []*testunit.TestUnit) bool {
	for _, member := range group {
		if !g.Independent(member.Key, u.Key) {
			return false
		}
	}
	return true
}

// ParallelGroups partitions the units of one phase into independent groups.
//
// Description:
//
//	Filters units to phase (empty phase keeps all), stable-sorts them by
//	priority high to low, then seeds FindIndependentGroup with each unit not
//	yet processed. Every filtered unit ends up in exactly one group.
//
// Inputs:
//   - phase: Phase filter. Empty means every phase.
//   - units: Candidate units. Nil entries are ignored.
//
// Outputs:
//   - [][]*testunit.TestUnit: Groups in discovery order. Empty, not nil,
//     when nothing matches.
func (g *Graph) ParallelGroups(phase testunit.Phase, units []*testunit.TestUnit) [][]*testunit.TestUnit {
	filtered := FilterPhase(units, phase)

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Priority.Weight() > filtered[j].Priority.Weight()
	})

	groups := [][]*testunit.TestUnit{}
	processed := make(map[string]bool, len(filtered))
	for _, u := range filtered {
		if processed[u.Key] {
			continue
		}
		if group := g.FindIndependentGroup(u, filtered, processed); len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// FilterPhase returns the non-nil units in phase, preserving order. An
// empty phase keeps every unit. The result is a fresh slice.
func FilterPhase(units []*testunit.TestUnit, phase testunit.Phase) []*testunit.TestUnit {
	out := make([]*testunit.TestUnit, 0, len(units))
	for _, u := range units {
		if u == nil {
			continue
		}
		if phase == "" || u.Phase == phase {
			out = append(out, u)
		}
	}
	return out
}
