// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testunit defines the per-file analysis records shared by the
// extraction, classification, graph and batching layers.
package testunit

import (
	"fmt"
	"strings"
)

// Phase is the coarse execution bucket a test unit belongs to.
type Phase string

const (
	// PhaseFoundation covers login, navigation and basic CRUD tests.
	PhaseFoundation Phase = "foundation"

	// PhaseBusiness covers workflow tests that depend on prior state.
	PhaseBusiness Phase = "business"

	// PhaseIntegration covers tests with heavy external or I/O dependence.
	PhaseIntegration Phase = "integration"
)

// Phases lists every phase in declaration order.
var Phases = []Phase{PhaseFoundation, PhaseBusiness, PhaseIntegration}

// ParsePhase converts a string to a Phase.
//
// An empty string yields the empty Phase, which callers treat as "all
// phases". Any other unknown value is an error.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PhaseFoundation, PhaseBusiness, PhaseIntegration:
		return p, nil
	default:
		return "", fmt.Errorf("unknown phase %q (want foundation, business or integration)", s)
	}
}

// Priority is a test unit's scheduling priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the sort weight: high=3, medium=2, low=1, unknown=0.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Multiplier returns the complexity multiplier: high=1.5, medium=1.2, else 1.0.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityHigh:
		return 1.5
	case PriorityMedium:
		return 1.2
	default:
		return 1.0
	}
}

// TestCase is one it/test declaration.
type TestCase struct {
	Title string `json:"title"`
	Async bool   `json:"async"`
	Line  int    `json:"line"`
}

// HookCounts counts lifecycle hook declarations.
type HookCounts struct {
	BeforeEach int `json:"beforeEach"`
	AfterEach  int `json:"afterEach"`
	BeforeAll  int `json:"beforeAll"`
	AfterAll   int `json:"afterAll"`
}

// Total returns the number of hooks of any kind.
func (h HookCounts) Total() int {
	return h.BeforeEach + h.AfterEach + h.BeforeAll + h.AfterAll
}

// PageObjectUse is a member call on something that looks like a page object.
type PageObjectUse struct {
	Object string `json:"object"`
	Method string `json:"method"`
}

// APICall is a call whose shape suggests an HTTP request.
type APICall struct {
	Client string `json:"client"`
	Method string `json:"method"`
	Path   string `json:"path,omitempty"`
}

// StorageOp is a call whose shape suggests a storage or database operation.
type StorageOp struct {
	Target    string `json:"target"`
	Operation string `json:"operation"`
}

// Metadata is the structural summary of one test file.
type Metadata struct {
	TestCases   []TestCase      `json:"testCases"`
	Describes   []string        `json:"describes"`
	Hooks       HookCounts      `json:"hooks"`
	Fixtures    []string        `json:"fixtures"`
	PageObjects []PageObjectUse `json:"pageObjects"`
	APICalls    []APICall       `json:"apiCalls"`
	StorageOps  []StorageOp     `json:"storageOps"`
}

func (m Metadata) TestCaseCount() int         { return len(m.TestCases) }
func (m Metadata) APICallCount() int          { return len(m.APICalls) }
func (m Metadata) StorageOperationCount() int { return len(m.StorageOps) }
func (m Metadata) PageObjectUsageCount() int  { return len(m.PageObjects) }

// FileDependency is an import of a test, page-object or fixture module.
type FileDependency struct {
	// Raw is the import specifier as written.
	Raw string `json:"raw"`

	// Resolved is the best-effort path relative to the test root, using
	// forward slashes. Non-relative specifiers are kept as written.
	Resolved string `json:"resolved"`
}

// Dependencies holds the four dependency categories of a test unit.
//
// Marker lists preserve source order and keep duplicates.
type Dependencies struct {
	Files    []FileDependency `json:"files"`
	Data     []string         `json:"data"`
	State    []string         `json:"state"`
	External []string         `json:"external"`
}

// TestUnit is one analyzed test file.
//
// A TestUnit is immutable after analysis. It lives as long as the cached
// ProjectAnalysis that owns it.
type TestUnit struct {
	// Key is "project:relativePath".
	Key string `json:"key"`

	// Project is the project name.
	Project string `json:"project"`

	// File is the path relative to the project's test root, forward slashes.
	File string `json:"file"`

	Metadata            Metadata     `json:"metadata"`
	Dependencies        Dependencies `json:"dependencies"`
	EstimatedDurationMs int64        `json:"estimatedDurationMs"`
	Phase               Phase        `json:"phase"`
	Category            string       `json:"category"`
	Priority            Priority     `json:"priority"`
}

// Key builds the unit key for a project and relative path.
func Key(project, relPath string) string {
	return project + ":" + relPath
}

// SplitKey splits a unit key into project and relative path.
func SplitKey(key string) (project, relPath string, ok bool) {
	project, relPath, ok = strings.Cut(key, ":")
	return project, relPath, ok
}

// SharesExternal reports whether a and b declare at least one common
// external dependency token.
func SharesExternal(a, b *TestUnit) bool {
	if a == nil || b == nil || len(a.Dependencies.External) == 0 || len(b.Dependencies.External) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a.Dependencies.External))
	for _, tok := range a.Dependencies.External {
		seen[tok] = struct{}{}
	}
	for _, tok := range b.Dependencies.External {
		if _, ok := seen[tok]; ok {
			return true
		}
	}
	return false
}
