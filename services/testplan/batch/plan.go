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
	"time"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/classify"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// Size buckets of the plan size histogram.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Duration buckets of the plan duration histogram.
const (
	DurationFast   = "fast"
	DurationNormal = "normal"
	DurationSlow   = "slow"
)

// Histogram bucket bounds.
const (
	mediumBatchMaxTests = 3
	fastBatchMaxMs      = 60000
	normalBatchMaxMs    = 180000
)

// TestSummary is the part of a test unit carried in a batch.
type TestSummary struct {
	Key                 string            `json:"key"`
	File                string            `json:"file"`
	EstimatedDurationMs int64             `json:"estimatedDurationMs"`
	Category            string            `json:"category"`
	Priority            testunit.Priority `json:"priority"`
	External            []string          `json:"external,omitempty"`
}

// BatchStatistics aggregates the tests of one batch.
type BatchStatistics struct {
	TestCount                int            `json:"testCount"`
	TotalEstimatedDurationMs int64          `json:"totalEstimatedDurationMs"`
	AverageDurationMs        float64        `json:"averageDurationMs"`
	LongestDurationMs        int64          `json:"longestDurationMs"`
	Complexity               float64        `json:"complexity"`
	Categories               map[string]int `json:"categories"`
}

// Execution is the concurrency contract of a batch for the runner.
type Execution struct {
	Parallel       bool `json:"parallel"`
	MaxConcurrency int  `json:"maxConcurrency"`
}

// Batch is a set of tests that may run concurrently.
//
// Description:
//
//	No two tests of a batch have a direct dependency edge in either
//	direction. With resource awareness on, no two tests share an external
//	token. Tests are listed in packing order.
type Batch struct {
	ID         string          `json:"id"`
	Project    string          `json:"project"`
	Phase      testunit.Phase  `json:"phase,omitempty"`
	Group      string          `json:"group,omitempty"`
	Tests      []TestSummary   `json:"tests"`
	Statistics BatchStatistics `json:"statistics"`
	Execution  Execution       `json:"execution"`
}

// Files returns the test-root-relative files of the batch in order.
func (b *Batch) Files() []string {
	files := make([]string, len(b.Tests))
	for i, t := range b.Tests {
		files[i] = t.File
	}
	return files
}

// PlanStatistics aggregates a whole plan.
type PlanStatistics struct {
	TotalTests                  int            `json:"totalTests"`
	TotalBatches                int            `json:"totalBatches"`
	AvgBatchSize                float64        `json:"avgBatchSize"`
	TotalEstimatedDurationMs    int64          `json:"totalEstimatedDurationMs"`
	EstimatedParallelDurationMs int64          `json:"estimatedParallelDurationMs"`
	MergedBatches               int            `json:"mergedBatches"`
	SkippedFiles                int            `json:"skippedFiles"`
	SizeDistribution            map[string]int `json:"sizeDistribution"`
	DurationDistribution        map[string]int `json:"durationDistribution"`
}

// Plan is the batching result for one project.
//
// Description:
//
//	Immutable once returned. Every analyzed test of the requested phase
//	appears in exactly one batch.
type Plan struct {
	ID         string         `json:"id"`
	Project    string         `json:"project"`
	Phase      testunit.Phase `json:"phase,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Options    Options        `json:"options"`
	Batches    []*Batch       `json:"batches"`
	Statistics PlanStatistics `json:"statistics"`
}

// draft is a batch under construction. It keeps the units so conflicts can
// be checked while rebalancing.
type draft struct {
	group      string
	units      []*testunit.TestUnit
	durationMs int64
}

func (d *draft) add(u *testunit.TestUnit) {
	d.units = append(d.units, u)
	d.durationMs += u.EstimatedDurationMs
}

func summarize(u *testunit.TestUnit) TestSummary {
	s := TestSummary{
		Key:                 u.Key,
		File:                u.File,
		EstimatedDurationMs: u.EstimatedDurationMs,
		Category:            u.Category,
		Priority:            u.Priority,
	}
	if len(u.Dependencies.External) > 0 {
		s.External = append([]string(nil), u.Dependencies.External...)
	}
	return s
}

// finalize turns a draft into a batch with its statistics.
func (d *draft) finalize(id, project string, phase testunit.Phase, opts Options) *Batch {
	b := &Batch{
		ID:      id,
		Project: project,
		Phase:   phase,
		Group:   d.group,
		Tests:   make([]TestSummary, 0, len(d.units)),
		Statistics: BatchStatistics{
			TestCount:  len(d.units),
			Categories: make(map[string]int),
		},
	}

	for _, u := range d.units {
		b.Tests = append(b.Tests, summarize(u))
		b.Statistics.TotalEstimatedDurationMs += u.EstimatedDurationMs
		b.Statistics.LongestDurationMs = max(b.Statistics.LongestDurationMs, u.EstimatedDurationMs)
		b.Statistics.Complexity += classify.Complexity(u)
		b.Statistics.Categories[u.Category]++
	}
	if n := len(d.units); n > 0 {
		b.Statistics.AverageDurationMs = float64(b.Statistics.TotalEstimatedDurationMs) / float64(n)
	}

	b.Execution = Execution{
		Parallel:       len(d.units) > 1,
		MaxConcurrency: min(len(d.units), opts.MaxBatchSize),
	}
	return b
}

func sizeBucket(tests int) string {
	switch {
	case tests <= 1:
		return SizeSmall
	case tests <= mediumBatchMaxTests:
		return SizeMedium
	default:
		return SizeLarge
	}
}

func durationBucket(ms int64) string {
	switch {
	case ms <= fastBatchMaxMs:
		return DurationFast
	case ms <= normalBatchMaxMs:
		return DurationNormal
	default:
		return DurationSlow
	}
}

// planStatistics aggregates finalized batches. Every histogram bucket is
// present, zero or not.
func planStatistics(batches []*Batch, merged, skipped int) PlanStatistics {
	stats := PlanStatistics{
		TotalBatches:  len(batches),
		MergedBatches: merged,
		SkippedFiles:  skipped,
		SizeDistribution: map[string]int{
			SizeSmall: 0, SizeMedium: 0, SizeLarge: 0,
		},
		DurationDistribution: map[string]int{
			DurationFast: 0, DurationNormal: 0, DurationSlow: 0,
		},
	}

	for _, b := range batches {
		stats.TotalTests += b.Statistics.TestCount
		stats.TotalEstimatedDurationMs += b.Statistics.TotalEstimatedDurationMs
		stats.EstimatedParallelDurationMs += b.Statistics.LongestDurationMs
		stats.SizeDistribution[sizeBucket(b.Statistics.TestCount)]++
		stats.DurationDistribution[durationBucket(b.Statistics.TotalEstimatedDurationMs)]++
	}
	if stats.TotalBatches > 0 {
		stats.AvgBatchSize = float64(stats.TotalTests) / float64(stats.TotalBatches)
	}
	return stats
}
