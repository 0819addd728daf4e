// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newWorkspace lays out tests/web with two valid specs, one broken spec and
// files discovery must ignore.
func newWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	root := filepath.Join(ws, "tests", "web")

	writeFile(t, filepath.Join(root, "auth", "login.spec.ts"), `import { test } from '@playwright/test';
import { shared } from './shared.spec';
test('user can login', async ({ page }) => { await page.goto('/'); });
`)
	writeFile(t, filepath.Join(root, "auth", "shared.spec.ts"), `export const shared = 1;
test('navigate home', async () => {});
`)
	writeFile(t, filepath.Join(root, "broken.spec.ts"), "test('broken', () => {\n  const x = ;\n")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "a.spec.ts"), "test('dep', () => {});\n")
	writeFile(t, filepath.Join(root, ".cache", "b.spec.ts"), "test('cached', () => {});\n")
	writeFile(t, filepath.Join(root, "helpers.ts"), "export const x = 1;\n")
	writeFile(t, filepath.Join(root, "README.md"), "# tests\n")
	return ws
}

func TestDiscoverTestFiles(t *testing.T) {
	ws := newWorkspace(t)
	files, err := DiscoverTestFiles(context.Background(), filepath.Join(ws, "tests", "web"), ast.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, []string{"auth/login.spec.ts", "auth/shared.spec.ts", "broken.spec.ts"}, files)
}

func TestIsTestFile(t *testing.T) {
	registry := ast.DefaultRegistry()
	assert.True(t, IsTestFile(registry, "login.spec.ts"))
	assert.True(t, IsTestFile(registry, "Cart.Test.JSX"))
	assert.True(t, IsTestFile(registry, "checkout.e2e.mjs"))
	assert.False(t, IsTestFile(registry, "login.ts"))
	assert.False(t, IsTestFile(registry, "login.spec.py"))
}

func TestAnalyzeProject(t *testing.T) {
	ws := newWorkspace(t)
	a := New(ws, nil, WithWorkers(2))

	analysis, err := a.AnalyzeProject(context.Background(), "web")
	require.NoError(t, err)

	require.Len(t, analysis.Tests, 2)
	login, shared := analysis.Tests[0], analysis.Tests[1]
	assert.Equal(t, "web:auth/login.spec.ts", login.Key)
	assert.Equal(t, "web:auth/shared.spec.ts", shared.Key)

	assert.Equal(t, "auth", login.Category)
	assert.Equal(t, testunit.PhaseFoundation, login.Phase)
	assert.Equal(t, testunit.PriorityLow, login.Priority)
	assert.Equal(t, int64(12000), login.EstimatedDurationMs)
	assert.Equal(t, []string{"page"}, login.Metadata.Fixtures)

	assert.True(t, analysis.Graph.HasDependency(login.Key, shared.Key))
	assert.Equal(t, []string{login.Key}, analysis.Graph.Dependents(shared.Key))

	assert.Equal(t, map[string][]string{
		"auth":       {login.Key},
		"navigation": {shared.Key},
	}, analysis.Categories)

	require.Len(t, analysis.Skipped, 1)
	assert.Equal(t, "broken.spec.ts", analysis.Skipped[0].File)
	assert.NotEmpty(t, analysis.Skipped[0].Reason)

	u, ok := analysis.Unit(login.Key)
	require.True(t, ok)
	assert.Same(t, login, u)
	assert.Len(t, analysis.Units(testunit.PhaseBusiness), 0)
	assert.Len(t, analysis.Units(""), 2)
}

func TestAnalyzeProject_CachedUntilInvalidated(t *testing.T) {
	ws := newWorkspace(t)
	a := New(ws, nil)
	ctx := context.Background()

	first, err := a.AnalyzeProject(ctx, "web")
	require.NoError(t, err)
	second, err := a.AnalyzeProject(ctx, "web")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), a.Cache().Stats().Builds)

	// New files are invisible until the project is invalidated.
	writeFile(t, filepath.Join(ws, "tests", "web", "late.spec.ts"), "test('late', () => {});\n")
	third, err := a.AnalyzeProject(ctx, "web")
	require.NoError(t, err)
	assert.Len(t, third.Tests, 2)

	assert.True(t, a.Invalidate("web"))
	fourth, err := a.AnalyzeProject(ctx, "web")
	require.NoError(t, err)
	assert.NotSame(t, first, fourth)
	assert.Len(t, fourth.Tests, 3)
}

func TestAnalyzeProject_ConcurrentCallsShareOneBuild(t *testing.T) {
	ws := newWorkspace(t)
	a := New(ws, nil)

	const callers = 8
	results := make([]*ProjectAnalysis, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			analysis, err := a.AnalyzeProject(context.Background(), "web")
			assert.NoError(t, err)
			results[i] = analysis
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, int64(1), a.Cache().Stats().Builds)
}

func TestAnalyzeProject_UpperCaseTSXUsesTSXGrammar(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "tests", "web", "widget.spec.TSX"),
		"test('renders', async () => { render(<div/>); });\n")

	analysis, err := New(ws, nil).AnalyzeProject(context.Background(), "web")
	require.NoError(t, err)
	assert.Empty(t, analysis.Skipped)
	require.Len(t, analysis.Tests, 1)
	assert.Equal(t, "widget.spec.TSX", analysis.Tests[0].File)
}

func TestAnalyzeProject_MissingRootIsEmpty(t *testing.T) {
	a := New(t.TempDir(), nil)

	analysis, err := a.AnalyzeProject(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", analysis.Project)
	assert.NotNil(t, analysis.Tests)
	assert.Empty(t, analysis.Tests)
	assert.Empty(t, analysis.Categories)
	assert.Empty(t, analysis.Skipped)
	assert.Zero(t, analysis.Graph.NodeCount())
	assert.Zero(t, analysis.Graph.EdgeCount())
}

func TestAnalyzeProject_InvalidName(t *testing.T) {
	a := New(t.TempDir(), nil)
	for _, name := range []string{"", "..", "../etc", "a/b", ".hidden", `a\b`} {
		_, err := a.AnalyzeProject(context.Background(), name)
		assert.True(t, errors.Is(err, ErrInvalidProject), "name %q", name)
	}
}

func TestAnalyzeProject_CanceledContext(t *testing.T) {
	ws := newWorkspace(t)
	a := New(ws, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.AnalyzeProject(ctx, "web")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, a.Cache().Stats().Entries)
}

func TestCache_InvalidateDuringBuildDoesNotStore(t *testing.T) {
	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan *ProjectAnalysis)
	go func() {
		analysis, _, err := c.GetOrBuild(context.Background(), "web", func(ctx context.Context, project string) (*ProjectAnalysis, error) {
			close(started)
			<-release
			return NewProjectAnalysis(project, "", nil, nil), nil
		})
		assert.NoError(t, err)
		done <- analysis
	}()

	<-started
	c.Invalidate("web")
	close(release)

	assert.NotNil(t, <-done)
	_, ok := c.Get("web")
	assert.False(t, ok)
}

func TestCache_CancelledCallerDoesNotFailSharedBuild(t *testing.T) {
	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})
	build := func(ctx context.Context, project string) (*ProjectAnalysis, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return NewProjectAnalysis(project, "", nil, nil), nil
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrBuild(firstCtx, "web", build)
		firstErr <- err
	}()
	<-started

	second := make(chan *ProjectAnalysis, 1)
	secondErr := make(chan error, 1)
	go func() {
		analysis, _, err := c.GetOrBuild(context.Background(), "web", build)
		secondErr <- err
		second <- analysis
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	assert.NotNil(t, <-second)
	assert.Equal(t, int64(1), c.Stats().Builds)
	_, ok := c.Get("web")
	assert.True(t, ok)
}

func TestCache_CancelledBeforeBuildDoesNotStart(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.GetOrBuild(ctx, "web", func(ctx context.Context, project string) (*ProjectAnalysis, error) {
		t.Fatal("build must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Stats().Builds)
}

func TestCache_ClearAndStats(t *testing.T) {
	c := NewCache()
	build := func(ctx context.Context, project string) (*ProjectAnalysis, error) {
		return NewProjectAnalysis(project, "", nil, nil), nil
	}

	_, cached, err := c.GetOrBuild(context.Background(), "b", build)
	require.NoError(t, err)
	assert.False(t, cached)
	_, _, err = c.GetOrBuild(context.Background(), "a", build)
	require.NoError(t, err)
	_, cached, err = c.GetOrBuild(context.Background(), "a", build)
	require.NoError(t, err)
	assert.True(t, cached)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, []string{"a", "b"}, stats.Projects)
	assert.Equal(t, int64(2), stats.Builds)
	assert.Equal(t, int64(1), stats.Hits)

	c.Clear()
	assert.Zero(t, c.Stats().Entries)

	_, _, err = c.GetOrBuild(context.Background(), "x", func(ctx context.Context, project string) (*ProjectAnalysis, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	_, ok := c.Get("x")
	assert.False(t, ok)
}
