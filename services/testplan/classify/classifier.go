// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"strings"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// Category tags assigned by Classify.
const (
	CategoryAuth            = "auth"
	CategoryNavigation      = "navigation"
	CategoryUserManagement  = "user-management"
	CategoryOrderProcessing = "order-processing"
	CategoryReporting       = "reporting"
	CategoryGeneral         = "general"
)

// Classification is the phase, category and priority of one test file.
type Classification struct {
	Phase    testunit.Phase
	Category string
	Priority testunit.Priority
}

// Classify applies the phase, category and priority rule chains.
//
// Description:
//
//	Each chain is evaluated top to bottom and the first matching rule wins.
//	Title matching is case-insensitive and considers every test case title
//	in the file.
//
//	Phase:
//	  1. integration: more than 2 external deps, or more than 5 API calls
//	     together with more than 2 storage operations.
//	  2. business: any state dep, or a title containing "workflow".
//	  3. foundation: everything else (titles with login, navigate, create or
//	     basic land here explicitly).
//
//	Category: login -> auth, navigate -> navigation, an API path containing
//	/users -> user-management, /orders -> order-processing, report ->
//	reporting, else general.
//
//	Priority: high if any external dep or more than 3 storage operations,
//	medium if more than 10 test cases, else low.
func Classify(meta testunit.Metadata, deps testunit.Dependencies) Classification {
	return Classification{
		Phase:    ClassifyPhase(meta, deps),
		Category: ClassifyCategory(meta),
		Priority: ClassifyPriority(meta, deps),
	}
}

// ClassifyPhase returns the execution phase.
func ClassifyPhase(meta testunit.Metadata, deps testunit.Dependencies) testunit.Phase {
	switch {
	case len(deps.External) > 2,
		meta.APICallCount() > 5 && meta.StorageOperationCount() > 2:
		return testunit.PhaseIntegration
	case len(deps.State) > 0, anyTitleContains(meta, "workflow"):
		return testunit.PhaseBusiness
	case anyTitleContains(meta, "login", "navigate", "create", "basic"):
		return testunit.PhaseFoundation
	default:
		return testunit.PhaseFoundation
	}
}

// ClassifyCategory returns the best-effort category tag.
func ClassifyCategory(meta testunit.Metadata) string {
	switch {
	case anyTitleContains(meta, "login"):
		return CategoryAuth
	case anyTitleContains(meta, "navigate"):
		return CategoryNavigation
	case anyAPIPathContains(meta, "/users"):
		return CategoryUserManagement
	case anyAPIPathContains(meta, "/orders"):
		return CategoryOrderProcessing
	case anyTitleContains(meta, "report"):
		return CategoryReporting
	default:
		return CategoryGeneral
	}
}

// ClassifyPriority returns the scheduling priority.
func ClassifyPriority(meta testunit.Metadata, deps testunit.Dependencies) testunit.Priority {
	switch {
	case len(deps.External) > 0:
		return testunit.PriorityHigh
	case meta.StorageOperationCount() > 3:
		return testunit.PriorityHigh
	case meta.TestCaseCount() > 10:
		return testunit.PriorityMedium
	default:
		return testunit.PriorityLow
	}
}

// Complexity returns the weighted complexity score of a unit:
// (apiCalls*2 + storageOps*3 + pageObjects + stateDeps*2) scaled by the
// priority multiplier.
func Complexity(u *testunit.TestUnit) float64 {
	if u == nil {
		return 0
	}
	raw := 2*u.Metadata.APICallCount() +
		3*u.Metadata.StorageOperationCount() +
		u.Metadata.PageObjectUsageCount() +
		2*len(u.Dependencies.State)
	return float64(raw) * u.Priority.Multiplier()
}

// IOWeight is the unscaled I/O weight used by the count balance strategy:
// apiCalls*2 + storageOps*3.
func IOWeight(u *testunit.TestUnit) int {
	if u == nil {
		return 0
	}
	return 2*u.Metadata.APICallCount() + 3*u.Metadata.StorageOperationCount()
}

func anyTitleContains(meta testunit.Metadata, needles ...string) bool {
	for _, tc := range meta.TestCases {
		title := strings.ToLower(tc.Title)
		for _, n := range needles {
			if strings.Contains(title, n) {
				return true
			}
		}
	}
	return false
}

func anyAPIPathContains(meta testunit.Metadata, needle string) bool {
	for _, call := range meta.APICalls {
		if strings.Contains(strings.ToLower(call.Path), needle) {
			return true
		}
	}
	return false
}
