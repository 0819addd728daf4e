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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// PlanConfig is the persisted form of a plan consumed by test runners and
// CI pipelines.
type PlanConfig struct {
	PlanID     string               `json:"planId" yaml:"plan_id"`
	Project    string               `json:"project" yaml:"project"`
	Phase      testunit.Phase       `json:"phase,omitempty" yaml:"phase,omitempty"`
	Timestamp  time.Time            `json:"timestamp" yaml:"timestamp"`
	Options    Options              `json:"options" yaml:"options"`
	Batches    []PlanConfigBatch    `json:"batches" yaml:"batches"`
	Statistics PlanConfigStatistics `json:"statistics" yaml:"statistics"`
}

// PlanConfigBatch lists the files of one batch.
type PlanConfigBatch struct {
	ID                  string   `json:"id" yaml:"id"`
	TestCount           int      `json:"testCount" yaml:"test_count"`
	EstimatedDurationMs int64    `json:"estimatedDuration" yaml:"estimated_duration_ms"`
	MaxConcurrency      int      `json:"maxConcurrency" yaml:"max_concurrency"`
	Tests               []string `json:"tests" yaml:"tests"`
}

// PlanConfigStatistics is the summary block of a PlanConfig.
type PlanConfigStatistics struct {
	TotalTests                  int     `json:"totalTests" yaml:"total_tests"`
	TotalBatches                int     `json:"totalBatches" yaml:"total_batches"`
	AvgBatchSize                float64 `json:"avgBatchSize" yaml:"avg_batch_size"`
	TotalEstimatedDurationMs    int64   `json:"totalEstimatedDuration" yaml:"total_estimated_duration_ms"`
	EstimatedParallelDurationMs int64   `json:"estimatedParallelDuration" yaml:"estimated_parallel_duration_ms"`
}

// NewPlanConfig projects a plan onto its persisted form.
func NewPlanConfig(plan *Plan) PlanConfig {
	cfg := PlanConfig{
		PlanID:    plan.ID,
		Project:   plan.Project,
		Phase:     plan.Phase,
		Timestamp: plan.CreatedAt,
		Options:   plan.Options,
		Batches:   make([]PlanConfigBatch, 0, len(plan.Batches)),
		Statistics: PlanConfigStatistics{
			TotalTests:                  plan.Statistics.TotalTests,
			TotalBatches:                plan.Statistics.TotalBatches,
			AvgBatchSize:                plan.Statistics.AvgBatchSize,
			TotalEstimatedDurationMs:    plan.Statistics.TotalEstimatedDurationMs,
			EstimatedParallelDurationMs: plan.Statistics.EstimatedParallelDurationMs,
		},
	}
	for _, b := range plan.Batches {
		cfg.Batches = append(cfg.Batches, PlanConfigBatch{
			ID:                  b.ID,
			TestCount:           b.Statistics.TestCount,
			EstimatedDurationMs: b.Statistics.TotalEstimatedDurationMs,
			MaxConcurrency:      b.Execution.MaxConcurrency,
			Tests:               b.Files(),
		})
	}
	return cfg
}

// WritePlanConfig writes the persisted form of plan to path.
//
// Description:
//
//	Files ending in .yaml or .yml are written as YAML, anything else as
//	indented JSON. The file is written to a temporary sibling and renamed
//	so readers never see a partial file. Parent directories are created.
func WritePlanConfig(path string, plan *Plan) error {
	if plan == nil {
		return fmt.Errorf("batch: plan must not be nil")
	}
	cfg := NewPlanConfig(plan)

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding plan config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating plan config directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp plan config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing plan config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing plan config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming plan config: %w", err)
	}
	return nil
}

// ReadPlanConfig reads a file written by WritePlanConfig.
func ReadPlanConfig(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan config: %w", err)
	}

	var cfg PlanConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding plan config %s: %w", path, err)
	}
	return &cfg, nil
}
