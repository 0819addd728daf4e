// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

func sampleAnalysis() *analyzer.ProjectAnalysis {
	units := []*testunit.TestUnit{
		{Key: "web:login.spec.ts", Project: "web", File: "login.spec.ts", EstimatedDurationMs: 40000,
			Phase: testunit.PhaseFoundation, Category: "auth", Priority: testunit.PriorityHigh},
		{Key: "web:pay.spec.ts", Project: "web", File: "pay.spec.ts", EstimatedDurationMs: 20000,
			Phase: testunit.PhaseBusiness, Category: "payments", Priority: testunit.PriorityMedium,
			Dependencies: testunit.Dependencies{External: []string{"stripe"}}},
	}
	return analyzer.NewProjectAnalysis("web", "tests/web", units,
		[]analyzer.SkippedFile{{File: "broken.spec.ts", Reason: "parse failed"}})
}

func samplePlan(t *testing.T) *batch.Plan {
	t.Helper()
	plan, err := batch.BuildPlan(sampleAnalysis(), "", nil, batch.DefaultOptions())
	require.NoError(t, err)
	return plan
}

func TestPrintPlan_Plain(t *testing.T) {
	var buf bytes.Buffer
	plan := samplePlan(t)
	NewPrinter(&buf, ModePlain).PrintPlan(plan)

	out := buf.String()
	assert.Contains(t, out, "plan\t"+plan.ID)
	assert.Contains(t, out, "phase\tall")
	assert.Contains(t, out, "tests\t2")
	assert.Contains(t, out, "batch-1\t")
	assert.Contains(t, out, "\tlogin.spec.ts\tauth\t40s")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrintPlan_Styled(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModeStyled).PrintPlan(samplePlan(t))

	out := buf.String()
	assert.Contains(t, out, "Batch plan")
	assert.Contains(t, out, "pay.spec.ts")
	assert.Contains(t, out, "stripe")
}

func TestPrintAnalysis_Plain(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).PrintAnalysis(sampleAnalysis())

	out := buf.String()
	assert.Contains(t, out, "tests\t2")
	assert.Contains(t, out, "estimated\t1m0s")
	assert.Contains(t, out, "category\tauth\t1")
	assert.Contains(t, out, "category\tpayments\t1")
	assert.Contains(t, out, "skipped\tbroken.spec.ts\tparse failed")
}

func TestPrintPlanList_Plain(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).PrintPlanList([]*storage.PlanMetadata{
		{PlanID: "p1", Project: "web", Phase: testunit.PhaseBusiness, TotalTests: 4, TotalBatches: 2, CreatedAtMilli: 0},
	})
	assert.Equal(t, "p1\tweb\tbusiness\t4\t2\t1970-01-01T00:00:00Z\n", buf.String())
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Success("saved %s", "plan.json")
	p.Warning("skipped %d", 1)
	assert.Equal(t, "OK: saved plan.json\nWARN: skipped 1\n", buf.String())
}

func TestDetectMode(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, ModePlain, DetectMode(f))
	assert.Equal(t, ModePlain, DetectMode(nil))

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(os.Stdout))
}
