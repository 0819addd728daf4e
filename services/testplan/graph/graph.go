// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the per-project test dependency graph and the
// independent-group finder used to keep dependent tests out of the same
// batch.
//
// The graph records only direct edges from import analysis. It never
// computes a transitive closure, and edges are used only to forbid
// co-scheduling, never to order execution.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

var (
	// ErrGraphFrozen is returned when mutating a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrNodeNotFound is returned when an edge source is not a known unit.
	ErrNodeNotFound = errors.New("node not found")
)

// GraphState represents the lifecycle state of the graph.
type GraphState int

const (
	// GraphStateBuilding accepts AddNode and AddEdge calls.
	GraphStateBuilding GraphState = iota

	// GraphStateReadOnly is frozen and safe for concurrent reads.
	GraphStateReadOnly
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// EdgeKind says what an edge points at.
type EdgeKind int

const (
	// EdgeKindFile targets another test unit in the same project.
	EdgeKindFile EdgeKind = iota + 1

	// EdgeKindExternal targets an import that resolved to no known unit.
	// Its To is the resolved path token, not a unit key.
	EdgeKindExternal
)

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	switch k {
	case EdgeKindFile:
		return "file"
	case EdgeKindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Edge is one direct dependency.
type Edge struct {
	// From is the unit key of the importing test.
	From string

	// To is a unit key for file edges or a path token for external edges.
	To string

	Kind EdgeKind

	// Raw is the import specifier as written.
	Raw string
}

// Graph is the dependency graph of one project.
//
// Description:
//
//	Holds a forward map (unit key to outgoing edges) and a reverse map
//	(target to source unit keys). Every forward edge has exactly one
//	matching reverse entry. Duplicate edges between the same pair are
//	collapsed, and self edges are dropped.
//
// Lifecycle:
//
//  1. Create with New(project) or Build(project, units)
//  2. Populate with AddNode and AddEdge
//  3. Freeze
//  4. Query with HasDependency, Dependencies, Dependents, ParallelGroups
//
// Thread Safety:
//
//	NOT safe for concurrent mutation. Safe for concurrent reads after Freeze.
type Graph struct {
	// Project is the project the graph belongs to.
	Project string

	// BuiltAtMilli is the Unix millisecond time of Freeze, zero before.
	BuiltAtMilli int64

	nodes   map[string]struct{}
	forward map[string][]Edge
	reverse map[string][]string
	edges   int
	state   GraphState
}

// New creates an empty graph in the building state.
func New(project string) *Graph {
	return &Graph{
		Project: project,
		nodes:   make(map[string]struct{}),
		forward: make(map[string][]Edge),
		reverse: make(map[string][]string),
		state:   GraphStateBuilding,
	}
}

// State returns the current lifecycle state.
func (g *Graph) State() GraphState {
	return g.state
}

// IsFrozen returns true if the graph is read-only.
func (g *Graph) IsFrozen() bool {
	return g.state == GraphStateReadOnly
}

// Freeze makes the graph read-only and stamps BuiltAtMilli.
func (g *Graph) Freeze() {
	g.state = GraphStateReadOnly
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// AddNode registers a unit key. Adding an existing key is a no-op.
func (g *Graph) AddNode(key string) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}
	g.nodes[key] = struct{}{}
	return nil
}

// AddEdge records a direct dependency from a known unit.
//
// Outputs:
//   - bool: True if a new edge was recorded, false for duplicates and
//     self edges.
//   - error: ErrGraphFrozen, or ErrNodeNotFound if from is unknown or a
//     file edge targets an unknown unit.
func (g *Graph) AddEdge(from, to string, kind EdgeKind, raw string) (bool, error) {
	if g.state == GraphStateReadOnly {
		return false, ErrGraphFrozen
	}
	if _, ok := g.nodes[from]; !ok {
		return false, fmt.Errorf("%w: source %s", ErrNodeNotFound, from)
	}
	if kind == EdgeKindFile {
		if _, ok := g.nodes[to]; !ok {
			return false, fmt.Errorf("%w: target %s", ErrNodeNotFound, to)
		}
	}
	if from == to {
		return false, nil
	}
	for _, e := range g.forward[from] {
		if e.To == to {
			return false, nil
		}
	}

	g.forward[from] = append(g.forward[from], Edge{From: from, To: to, Kind: kind, Raw: raw})
	g.reverse[to] = append(g.reverse[to], from)
	g.edges++
	return true, nil
}

// HasDependency reports whether b is a direct forward edge target of a.
// It does not follow edges transitively.
func (g *Graph) HasDependency(a, b string) bool {
	if g == nil {
		return false
	}
	for _, e := range g.forward[a] {
		if e.To == b {
			return true
		}
	}
	return false
}

// Independent reports whether neither a nor b directly depends on the other.
func (g *Graph) Independent(a, b string) bool {
	return !g.HasDependency(a, b) && !g.HasDependency(b, a)
}

// Dependencies returns a copy of the outgoing edges of key.
func (g *Graph) Dependencies(key string) []Edge {
	if g == nil {
		return nil
	}
	out := make([]Edge, len(g.forward[key]))
	copy(out, g.forward[key])
	return out
}

// Dependents returns a copy of the unit keys that directly depend on target.
func (g *Graph) Dependents(target string) []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.reverse[target]))
	copy(out, g.reverse[target])
	return out
}

// HasNode reports whether key is a registered unit.
func (g *Graph) HasNode(key string) bool {
	if g == nil {
		return false
	}
	_, ok := g.nodes[key]
	return ok
}

// NodeCount returns the number of registered units.
func (g *Graph) NodeCount() int {
	if g == nil {
		return 0
	}
	return len(g.nodes)
}

// EdgeCount returns the number of forward edges.
func (g *Graph) EdgeCount() int {
	if g == nil {
		return 0
	}
	return g.edges
}

// NodeKeys returns all unit keys, sorted.
func (g *Graph) NodeKeys() []string {
	if g == nil {
		return []string{}
	}
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Edges returns every forward edge ordered by From, then To.
func (g *Graph) Edges() []Edge {
	if g == nil {
		return []Edge{}
	}
	out := make([]Edge, 0, g.edges)
	for _, es := range g.forward {
		out = append(out, es...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Hash returns a deterministic SHA256 over the node keys and edges.
func (g *Graph) Hash() string {
	h := sha256.New()
	for _, k := range g.NodeKeys() {
		h.Write([]byte("n:" + k + "\n"))
	}
	for _, e := range g.Edges() {
		h.Write([]byte("e:" + e.From + "|" + e.To + "|" + e.Kind.String() + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// resolveSuffixes are tried, in order, when matching an import path to a
// test file.
var resolveSuffixes = []string{
	"", ".ts", ".tsx", ".js", ".jsx", ".mts", ".cts", ".mjs", ".cjs",
	"/index.ts", "/index.tsx", "/index.js", "/index.jsx",
}

// Build constructs and freezes the graph of one project from its units.
//
// Description:
//
//	Registers every unit, then turns each files dependency into an edge.
//	A dependency whose resolved path matches a unit's relative path (as
//	written or with a known extension or index file appended) becomes a
//	file edge to that unit. Anything else becomes an external edge to the
//	resolved path token. Marker dependencies do not create edges.
//
// Inputs:
//   - project: Project name. Unit keys are "project:relPath".
//   - units: The analyzed units. Nil entries are ignored.
//
// Outputs:
//   - *Graph: A frozen graph. Never nil.
func Build(project string, units []*testunit.TestUnit) *Graph {
	g := New(project)

	byPath := make(map[string]string, len(units))
	for _, u := range units {
		if u == nil {
			continue
		}
		_ = g.AddNode(u.Key)
		byPath[u.File] = u.Key
	}

	for _, u := range units {
		if u == nil {
			continue
		}
		for _, dep := range u.Dependencies.Files {
			if target, ok := resolveUnit(byPath, dep.Resolved); ok {
				_, _ = g.AddEdge(u.Key, target, EdgeKindFile, dep.Raw)
				continue
			}
			_, _ = g.AddEdge(u.Key, dep.Resolved, EdgeKindExternal, dep.Raw)
		}
	}

	g.Freeze()
	return g
}

func resolveUnit(byPath map[string]string, resolved string) (string, bool) {
	resolved = strings.TrimPrefix(resolved, "./")
	for _, suffix := range resolveSuffixes {
		if key, ok := byPath[resolved+suffix]; ok {
			return key, true
		}
	}
	return "", false
}
