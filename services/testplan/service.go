// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testplan exposes test analysis and batch planning over HTTP.
package testplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// ErrStoreNotConfigured is returned by plan history operations when the
// service runs without a plan store.
var ErrStoreNotConfigured = errors.New("plan store not configured")

// Service ties the analyzer, batcher and optional plan store together.
//
// Thread Safety:
//
//	Safe for concurrent use. All state lives in the analyzer cache and the
//	store, which are both concurrency safe.
type Service struct {
	analyzer *analyzer.Analyzer
	batcher  *batch.Batcher
	store    *storage.PlanStore
	logger   *slog.Logger
	started  time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore enables plan history. Plans are saved on creation.
func WithStore(store *storage.PlanStore) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithServiceLogger sets the logger. Nil keeps slog.Default().
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a service over workspaceRoot.
//
// Inputs:
//   - workspaceRoot: Directory holding the test tree and testplan.config.yaml.
//   - cfg: Loaded configuration. Nil means config.Default().
//
// Outputs:
//   - error: batch.ErrInvalidOptions when the configured batching section
//     does not validate.
func NewService(workspaceRoot string, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.analyzer = analyzer.New(workspaceRoot, cfg, analyzer.WithLogger(s.logger))
	b, err := batch.New(s.analyzer, cfg,
		batch.WithLogger(s.logger),
		batch.WithOptions(batch.OptionsFromConfig(cfg.Batching)))
	if err != nil {
		return nil, fmt.Errorf("creating batcher: %w", err)
	}
	s.batcher = b
	return s, nil
}

// Analyzer returns the underlying analyzer.
func (s *Service) Analyzer() *analyzer.Analyzer {
	return s.analyzer
}

// DefaultOptions returns the batching options used when a request sets none.
func (s *Service) DefaultOptions() batch.Options {
	return s.batcher.Options()
}

// HasStore reports whether plan history is enabled.
func (s *Service) HasStore() bool {
	return s.store != nil
}

// Analyze returns the (possibly cached) analysis of project.
func (s *Service) Analyze(ctx context.Context, project string) (*analyzer.ProjectAnalysis, error) {
	start := time.Now()
	analysis, err := s.analyzer.AnalyzeProject(ctx, project)
	recordAnalyze(time.Since(start), err)
	return analysis, err
}

// CreatePlan batches project and saves the plan when a store is configured.
//
// Description:
//
//	A store failure does not discard the plan: the plan is returned along
//	with a nil metadata and the failure is logged.
//
// Outputs:
//   - *batch.Plan: The new plan.
//   - *storage.PlanMetadata: Saved metadata, nil without a store.
//   - error: Analysis or option errors.
func (s *Service) CreatePlan(ctx context.Context, project string, phase testunit.Phase, opts batch.Options) (*batch.Plan, *storage.PlanMetadata, error) {
	plan, err := s.batcher.CreateBatchesWithOptions(ctx, project, phase, opts)
	if err != nil {
		recordPlanRequest(err)
		return nil, nil, err
	}
	recordPlanRequest(nil)
	recordPlan(plan)

	if s.store == nil {
		return plan, nil, nil
	}
	meta, err := s.store.Save(ctx, plan)
	if err != nil {
		s.logger.Error("saving plan failed",
			slog.String("plan_id", plan.ID),
			slog.String("project", project),
			slog.String("error", err.Error()))
		return plan, nil, nil
	}
	return plan, meta, nil
}

// ListPlans lists saved plan metadata, newest first.
func (s *Service) ListPlans(ctx context.Context, project string, limit int) ([]*storage.PlanMetadata, error) {
	if s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	return s.store.List(ctx, project, limit)
}

// GetPlan loads a saved plan by ID.
func (s *Service) GetPlan(ctx context.Context, planID string) (*batch.Plan, *storage.PlanMetadata, error) {
	if s.store == nil {
		return nil, nil, ErrStoreNotConfigured
	}
	return s.store.Load(ctx, planID)
}

// LatestPlan loads the most recently saved plan of project.
func (s *Service) LatestPlan(ctx context.Context, project string) (*batch.Plan, *storage.PlanMetadata, error) {
	if s.store == nil {
		return nil, nil, ErrStoreNotConfigured
	}
	return s.store.LoadLatest(ctx, project)
}

// InvalidateCache drops the cached analysis of project and reports whether
// one was present.
func (s *Service) InvalidateCache(project string) bool {
	dropped := s.analyzer.Invalidate(project)
	if dropped {
		cacheInvalidationsTotal.Inc()
	}
	s.logger.Info("analysis cache invalidated",
		slog.String("project", project),
		slog.Bool("dropped", dropped))
	return dropped
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}
