// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

func newTestStore(t *testing.T) *PlanStore {
	t.Helper()
	db, err := OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPlanStore(db, nil)
	require.NoError(t, err)
	return store
}

func testPlan(t *testing.T, project string, createdAt time.Time) *batch.Plan {
	t.Helper()
	units := []*testunit.TestUnit{
		{Key: testunit.Key(project, "a.spec.ts"), Project: project, File: "a.spec.ts", EstimatedDurationMs: 20000, Phase: testunit.PhaseFoundation, Category: "auth", Priority: testunit.PriorityLow},
		{Key: testunit.Key(project, "b.spec.ts"), Project: project, File: "b.spec.ts", EstimatedDurationMs: 10000, Phase: testunit.PhaseFoundation, Category: "general", Priority: testunit.PriorityHigh,
			Dependencies: testunit.Dependencies{External: []string{"payments"}}},
	}
	plan, err := batch.BuildPlan(analyzer.NewProjectAnalysis(project, "", units, nil), "", nil, batch.DefaultOptions())
	require.NoError(t, err)
	plan.CreatedAt = createdAt
	return plan
}

func TestNewPlanStore_NilDB(t *testing.T) {
	_, err := NewPlanStore(nil, nil)
	assert.Error(t, err)
}

func TestPlanStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := testPlan(t, "web", time.UnixMilli(1_700_000_000_000).UTC())

	meta, err := store.Save(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, meta.PlanID)
	assert.Equal(t, "web", meta.Project)
	assert.Equal(t, 2, meta.TotalTests)
	assert.Equal(t, 1, meta.TotalBatches)
	assert.Equal(t, PlanSchemaVersion, meta.SchemaVersion)
	assert.Positive(t, meta.CompressedSize)
	assert.Len(t, meta.ContentHash, 64)

	loaded, loadedMeta, err := store.Load(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, meta, loadedMeta)
	assert.Equal(t, plan.ID, loaded.ID)
	assert.True(t, plan.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, plan.Options, loaded.Options)
	assert.Equal(t, plan.Statistics, loaded.Statistics)
	require.Len(t, loaded.Batches, 1)
	assert.Equal(t, plan.Batches[0], loaded.Batches[0])
}

func TestPlanStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	_, _, err = store.LoadLatest(ctx, "web")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	assert.True(t, errors.Is(store.Delete(ctx, "missing"), ErrPlanNotFound))
}

func TestPlanStore_InvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, nil)
	assert.Error(t, err)
	_, err = store.Save(ctx, &batch.Plan{Project: "web"})
	assert.Error(t, err)
	_, _, err = store.Load(ctx, "")
	assert.Error(t, err)
	_, _, err = store.LoadLatest(ctx, "")
	assert.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Save(canceled, testPlan(t, "web", time.Now()))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPlanStore_LatestAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000).UTC()

	older := testPlan(t, "web", base)
	newer := testPlan(t, "web", base.Add(time.Minute))
	other := testPlan(t, "api", base.Add(2*time.Minute))
	for _, p := range []*batch.Plan{older, newer, other} {
		_, err := store.Save(ctx, p)
		require.NoError(t, err)
	}

	latest, _, err := store.LoadLatest(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{other.ID, newer.ID, older.ID}, []string{all[0].PlanID, all[1].PlanID, all[2].PlanID})

	web, err := store.List(ctx, "web", 0)
	require.NoError(t, err)
	require.Len(t, web, 2)
	assert.Equal(t, newer.ID, web[0].PlanID)

	limited, err := store.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, other.ID, limited[0].PlanID)

	empty, err := store.List(ctx, "mobile", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPlanStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000).UTC()

	older := testPlan(t, "web", base)
	newer := testPlan(t, "web", base.Add(time.Minute))
	for _, p := range []*batch.Plan{older, newer} {
		_, err := store.Save(ctx, p)
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, older.ID))
	_, _, err := store.Load(ctx, older.ID)
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	latest, _, err := store.LoadLatest(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID, "deleting a non-latest plan keeps the pointer")

	require.NoError(t, store.Delete(ctx, newer.ID))
	_, _, err = store.LoadLatest(ctx, "web")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	remaining, err := store.List(ctx, "web", 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
