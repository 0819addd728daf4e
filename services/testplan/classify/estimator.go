// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns extracted test metadata into scheduling inputs:
// an estimated duration, a phase, a category and a priority.
//
// All rules are file-local. Reclassifying one file never requires looking
// at another.
package classify

import "github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"

// Duration weights, in milliseconds.
const (
	BaseDurationMs         int64 = 10000
	PerTestCaseMs          int64 = 2000
	PerAPICallMs           int64 = 1000
	PerStorageOpMs         int64 = 3000
	PerPageObjectUseMs     int64 = 1500
	MinEstimatedDurationMs int64 = 5000
)

// EstimateDuration returns the estimated wall-clock time of a test file.
//
// Description:
//
//	A linear heuristic over the metadata counts with a floor of
//	MinEstimatedDurationMs. The result is never below the floor, even for
//	all-zero metadata.
func EstimateDuration(meta testunit.Metadata) int64 {
	d := BaseDurationMs +
		PerTestCaseMs*int64(meta.TestCaseCount()) +
		PerAPICallMs*int64(meta.APICallCount()) +
		PerStorageOpMs*int64(meta.StorageOperationCount()) +
		PerPageObjectUseMs*int64(meta.PageObjectUsageCount())

	return max(d, MinEstimatedDurationMs)
}
