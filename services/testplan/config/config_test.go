// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultTestDir, cfg.TestDir)
	assert.Equal(t, DefaultMaxBatchSize, cfg.Batching.MaxBatchSize)
	assert.Equal(t, int64(DefaultMaxBatchDurationMs), cfg.Batching.MaxBatchDurationMs)
	assert.Equal(t, DefaultBalanceStrategy, cfg.Batching.BalanceStrategy)
	require.NotNil(t, cfg.Batching.ResourceAware)
	assert.True(t, *cfg.Batching.ResourceAware)
	assert.Greater(t, cfg.Analysis.Workers, 0)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yamlText := `test_dir: e2e
projects:
  web:
    test_root: apps/web/tests
    parallel_groups:
      - name: smoke
        patterns: ["smoke/*", "*.smoke.spec.ts"]
batching:
  max_batch_size: 5
  balance_strategy: balanced
  resource_aware: false
analysis:
  workers: 2
  tolerant_parsing: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yamlText), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "e2e", cfg.TestDir)
	assert.Equal(t, 5, cfg.Batching.MaxBatchSize)
	assert.Equal(t, int64(DefaultMaxBatchDurationMs), cfg.Batching.MaxBatchDurationMs)
	assert.Equal(t, "balanced", cfg.Batching.BalanceStrategy)
	assert.False(t, *cfg.Batching.ResourceAware)
	assert.Equal(t, 2, cfg.Analysis.Workers)
	assert.True(t, cfg.Analysis.TolerantParsing)

	assert.Equal(t, filepath.Join(dir, "apps/web/tests"), cfg.TestRoot(dir, "web"))
	assert.Equal(t, filepath.Join(dir, "e2e", "admin"), cfg.TestRoot(dir, "admin"))
	assert.Len(t, cfg.ParallelGroups("web"), 1)
	assert.Nil(t, cfg.ParallelGroups("admin"))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "negative batch size", yaml: "batching:\n  max_batch_size: -1\n"},
		{name: "negative duration", yaml: "batching:\n  max_batch_duration_ms: -5\n"},
		{name: "unknown strategy", yaml: "batching:\n  balance_strategy: random\n"},
		{name: "group without patterns", yaml: "projects:\n  web:\n    parallel_groups:\n      - name: smoke\n"},
		{name: "group without name", yaml: "projects:\n  web:\n    parallel_groups:\n      - patterns: [\"a/*\"]\n"},
		{name: "bad glob", yaml: "projects:\n  web:\n    parallel_groups:\n      - name: smoke\n        patterns: [\"[\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	_, err := Parse([]byte("batching: [unclosed"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestMatchGroup(t *testing.T) {
	groups := []ParallelGroup{
		{Name: "smoke", Patterns: []string{"smoke/*", "*.smoke.spec.ts"}},
		{Name: "admin", Patterns: []string{"admin/**"}},
	}

	name, ok := MatchGroup(groups, "smoke/login.spec.ts")
	assert.True(t, ok)
	assert.Equal(t, "smoke", name)

	name, ok = MatchGroup(groups, "checkout/cart.smoke.spec.ts")
	assert.True(t, ok)
	assert.Equal(t, "smoke", name)

	// path.Match has no recursive wildcard: "**" matches one segment.
	name, ok = MatchGroup(groups, "admin/users.spec.ts")
	assert.True(t, ok)
	assert.Equal(t, "admin", name)

	_, ok = MatchGroup(groups, "admin/deep/users.spec.ts")
	assert.False(t, ok)

	_, ok = MatchGroup(groups, "checkout/cart.spec.ts")
	assert.False(t, ok)
}
