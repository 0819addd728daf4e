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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

const project = "web"

func newUnit(rel string, priority testunit.Priority, resolvedImports ...string) *testunit.TestUnit {
	files := make([]testunit.FileDependency, 0, len(resolvedImports))
	for _, r := range resolvedImports {
		files = append(files, testunit.FileDependency{Raw: "./" + r, Resolved: r})
	}
	return &testunit.TestUnit{
		Key:          testunit.Key(project, rel),
		Project:      project,
		File:         rel,
		Phase:        testunit.PhaseFoundation,
		Priority:     priority,
		Dependencies: testunit.Dependencies{Files: files},
	}
}

func keysOf(units []*testunit.TestUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Key
	}
	return out
}

func groupKeys(groups [][]*testunit.TestUnit) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = keysOf(g)
	}
	return out
}

func TestBuild_EdgesAndReverseIndex(t *testing.T) {
	login := newUnit("auth/login.spec.ts", testunit.PriorityLow, "auth/shared.spec", "pages/login-page", "auth/shared.spec")
	shared := newUnit("auth/shared.spec.ts", testunit.PriorityLow)
	cart := newUnit("checkout/cart.spec.ts", testunit.PriorityLow, "checkout/cart.spec")

	g := Build(project, []*testunit.TestUnit{login, shared, cart, nil})

	assert.True(t, g.IsFrozen())
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount(), "duplicate and self edges are collapsed")

	assert.True(t, g.HasDependency(login.Key, shared.Key))
	assert.False(t, g.HasDependency(shared.Key, login.Key))
	assert.False(t, g.Independent(shared.Key, login.Key))
	assert.True(t, g.Independent(cart.Key, login.Key))

	assert.Equal(t, []string{login.Key}, g.Dependents(shared.Key))
	assert.Equal(t, []string{login.Key}, g.Dependents("pages/login-page"))

	deps := g.Dependencies(login.Key)
	require.Len(t, deps, 2)
	assert.Equal(t, EdgeKindFile, deps[0].Kind)
	assert.Equal(t, shared.Key, deps[0].To)
	assert.Equal(t, EdgeKindExternal, deps[1].Kind)
	assert.Equal(t, "pages/login-page", deps[1].To)

	// Every forward edge has exactly one reverse entry.
	for _, e := range g.Edges() {
		count := 0
		for _, src := range g.Dependents(e.To) {
			if src == e.From {
				count++
			}
		}
		assert.Equal(t, 1, count, "reverse entries for %s -> %s", e.From, e.To)
	}
}

func TestBuild_ResolvesIndexFiles(t *testing.T) {
	helpers := newUnit("helpers/index.ts", testunit.PriorityLow)
	spec := newUnit("a.spec.ts", testunit.PriorityLow, "helpers")

	g := Build(project, []*testunit.TestUnit{helpers, spec})
	assert.True(t, g.HasDependency(spec.Key, helpers.Key))
}

func TestHasDependency_IsNotTransitive(t *testing.T) {
	a := newUnit("a.spec.ts", testunit.PriorityLow, "b.spec.ts")
	b := newUnit("b.spec.ts", testunit.PriorityLow, "c.spec.ts")
	c := newUnit("c.spec.ts", testunit.PriorityLow)

	g := Build(project, []*testunit.TestUnit{a, b, c})
	assert.True(t, g.HasDependency(a.Key, b.Key))
	assert.True(t, g.HasDependency(b.Key, c.Key))
	assert.False(t, g.HasDependency(a.Key, c.Key))

	// a and c are independent, so they may share a group.
	groups := g.ParallelGroups(testunit.PhaseFoundation, []*testunit.TestUnit{a, b, c})
	assert.Equal(t, [][]string{{a.Key, c.Key}, {b.Key}}, groupKeys(groups))
}

func TestGraph_MutationErrors(t *testing.T) {
	g := New(project)
	require.NoError(t, g.AddNode("web:a"))

	_, err := g.AddEdge("web:missing", "web:a", EdgeKindFile, "")
	assert.True(t, errors.Is(err, ErrNodeNotFound))

	_, err = g.AddEdge("web:a", "web:missing", EdgeKindFile, "")
	assert.True(t, errors.Is(err, ErrNodeNotFound))

	added, err := g.AddEdge("web:a", "vendor/x", EdgeKindExternal, "../vendor/x")
	require.NoError(t, err)
	assert.True(t, added)

	g.Freeze()
	assert.Equal(t, GraphStateReadOnly, g.State())
	assert.True(t, errors.Is(g.AddNode("web:b"), ErrGraphFrozen))
	_, err = g.AddEdge("web:a", "vendor/y", EdgeKindExternal, "")
	assert.True(t, errors.Is(err, ErrGraphFrozen))
}

func TestFindIndependentGroup(t *testing.T) {
	tests := []struct {
		name  string
		units func() []*testunit.TestUnit
		want  [][]string
	}{
		{
			name: "dependent pair is split",
			units: func() []*testunit.TestUnit {
				return []*testunit.TestUnit{
					newUnit("a.spec.ts", testunit.PriorityLow, "b.spec.ts"),
					newUnit("b.spec.ts", testunit.PriorityLow),
				}
			},
			want: [][]string{{"web:a.spec.ts"}, {"web:b.spec.ts"}},
		},
		{
			name: "independent unit joins the seed",
			units: func() []*testunit.TestUnit {
				return []*testunit.TestUnit{
					newUnit("a.spec.ts", testunit.PriorityLow, "b.spec.ts"),
					newUnit("b.spec.ts", testunit.PriorityLow),
					newUnit("c.spec.ts", testunit.PriorityLow),
				}
			},
			want: [][]string{{"web:a.spec.ts", "web:c.spec.ts"}, {"web:b.spec.ts"}},
		},
		{
			name: "reverse edge also blocks",
			units: func() []*testunit.TestUnit {
				return []*testunit.TestUnit{
					newUnit("a.spec.ts", testunit.PriorityLow),
					newUnit("b.spec.ts", testunit.PriorityLow, "a.spec.ts"),
				}
			},
			want: [][]string{{"web:a.spec.ts"}, {"web:b.spec.ts"}},
		},
		{
			name: "candidate compatible with member but not with group is rejected",
			units: func() []*testunit.TestUnit {
				return []*testunit.TestUnit{
					newUnit("a.spec.ts", testunit.PriorityLow),
					newUnit("b.spec.ts", testunit.PriorityLow),
					newUnit("c.spec.ts", testunit.PriorityLow, "b.spec.ts"),
				}
			},
			want: [][]string{{"web:a.spec.ts", "web:b.spec.ts"}, {"web:c.spec.ts"}},
		},
		{
			name:  "no units",
			units: func() []*testunit.TestUnit { return nil },
			want:  [][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := tt.units()
			g := Build(project, units)
			groups := g.ParallelGroups("", units)
			assert.Equal(t, tt.want, groupKeys(groups))

			// No group contains a dependent pair.
			for _, group := range groups {
				for i := range group {
					for j := range group {
						if i != j {
							assert.False(t, g.HasDependency(group[i].Key, group[j].Key))
						}
					}
				}
			}
		})
	}
}

func TestFindIndependentGroup_ProcessedSeedIsSkipped(t *testing.T) {
	a := newUnit("a.spec.ts", testunit.PriorityLow)
	g := Build(project, []*testunit.TestUnit{a})

	processed := map[string]bool{a.Key: true}
	assert.Nil(t, g.FindIndependentGroup(a, []*testunit.TestUnit{a}, processed))
}

func TestParallelGroups_PriorityOrderAndPhaseFilter(t *testing.T) {
	low := newUnit("low.spec.ts", testunit.PriorityLow)
	high := newUnit("high.spec.ts", testunit.PriorityHigh, "low.spec.ts")
	medium := newUnit("medium.spec.ts", testunit.PriorityMedium, "low.spec.ts")
	business := newUnit("flow.spec.ts", testunit.PriorityHigh)
	business.Phase = testunit.PhaseBusiness

	units := []*testunit.TestUnit{low, high, medium, business}
	g := Build(project, units)

	groups := g.ParallelGroups(testunit.PhaseFoundation, units)
	assert.Equal(t, [][]string{{high.Key, medium.Key}, {low.Key}}, groupKeys(groups))

	// Input order is not disturbed by the priority sort.
	assert.Equal(t, []string{low.Key, high.Key, medium.Key, business.Key}, keysOf(units))

	all := g.ParallelGroups("", units)
	seen := map[string]int{}
	for _, group := range all {
		for _, u := range group {
			seen[u.Key]++
		}
	}
	assert.Len(t, seen, 4)
	for key, n := range seen {
		assert.Equal(t, 1, n, "unit %s assigned more than once", key)
	}
}

func TestSerialization_RoundTrip(t *testing.T) {
	a := newUnit("a.spec.ts", testunit.PriorityLow, "b.spec.ts", "fixtures/users")
	b := newUnit("b.spec.ts", testunit.PriorityLow)
	g := Build(project, []*testunit.TestUnit{a, b})

	data, err := json.Marshal(g.ToSerializable())
	require.NoError(t, err)

	var sg SerializableGraph
	require.NoError(t, json.Unmarshal(data, &sg))

	restored, err := FromSerializable(&sg)
	require.NoError(t, err)
	assert.Equal(t, g.Hash(), restored.Hash())
	assert.Equal(t, g.BuiltAtMilli, restored.BuiltAtMilli)
	assert.True(t, restored.HasDependency(a.Key, b.Key))
	assert.Equal(t, []string{a.Key}, restored.Dependents("fixtures/users"))

	_, err = FromSerializable(&SerializableGraph{SchemaVersion: "0.1"})
	assert.Error(t, err)
	_, err = FromSerializable(nil)
	assert.Error(t, err)
}

func TestNilGraph(t *testing.T) {
	var g *Graph
	assert.False(t, g.HasDependency("a", "b"))
	assert.Zero(t, g.EdgeCount())
	assert.Empty(t, g.ToSerializable().Nodes)
}
