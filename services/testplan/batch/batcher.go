// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch packs analyzed tests into batches that can run concurrently.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/classify"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// AnalysisSource supplies project analyses. *analyzer.Analyzer implements it.
type AnalysisSource interface {
	AnalyzeProject(ctx context.Context, project string) (*analyzer.ProjectAnalysis, error)
}

// Batcher creates batch plans for projects.
//
// Thread Safety:
//
//	Safe for concurrent use. Options are copied at construction.
type Batcher struct {
	source AnalysisSource
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithOptions replaces the batching options taken from the config.
func WithOptions(opts Options) Option {
	return func(b *Batcher) {
		b.opts = opts
	}
}

// WithClock sets the clock used for plan timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Batcher) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a batcher.
//
// Inputs:
//   - source: Where analyses come from. Must not be nil.
//   - cfg: Supplies default options and predefined parallel groups. Nil
//     means config.Default().
//   - opts: Optional overrides.
//
// Outputs:
//   - *Batcher: Ready to use.
//   - error: ErrInvalidOptions if the resulting options are invalid.
func New(source AnalysisSource, cfg *config.Config, opts ...Option) (*Batcher, error) {
	if source == nil {
		return nil, fmt.Errorf("batch: analysis source must not be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	b := &Batcher{
		source: source,
		cfg:    cfg,
		opts:   OptionsFromConfig(cfg.Batching),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.opts.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Options returns the batcher's default options.
func (b *Batcher) Options() Options {
	return b.opts
}

// CreateBatchesForProject plans project with the batcher's options.
//
// Inputs:
//   - project: Project name.
//   - phase: Phase filter. Empty means every phase.
//
// Outputs:
//   - *Plan: Never nil on success. A project without tests yields a plan
//     with no batches and zero statistics.
//   - error: Analysis errors such as an invalid project name or an
//     unreadable test root.
func (b *Batcher) CreateBatchesForProject(ctx context.Context, project string, phase testunit.Phase) (*Plan, error) {
	return b.CreateBatchesWithOptions(ctx, project, phase, b.opts)
}

// CreateBatchesWithOptions is CreateBatchesForProject with per-call options.
func (b *Batcher) CreateBatchesWithOptions(ctx context.Context, project string, phase testunit.Phase, opts Options) (*Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := startBatchSpan(ctx, project, phase, opts)
	defer span.End()
	start := time.Now()

	analysis, err := b.source.AnalyzeProject(ctx, project)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("analyzing project %s: %w", project, err)
	}

	plan, err := BuildPlan(analysis, phase, b.cfg.ParallelGroups(project), opts)
	if err != nil {
		return nil, err
	}
	plan.CreatedAt = b.now().UTC()

	span.SetAttributes(
		attribute.String("batch.plan_id", plan.ID),
		attribute.Int("batch.tests", plan.Statistics.TotalTests),
		attribute.Int("batch.batches", plan.Statistics.TotalBatches),
		attribute.Int("batch.merged", plan.Statistics.MergedBatches),
	)
	recordPlanMetrics(ctx, project, time.Since(start), plan)

	b.logger.Info("batch plan created",
		slog.String("plan_id", plan.ID),
		slog.String("project", project),
		slog.String("phase", string(phase)),
		slog.Int("tests", plan.Statistics.TotalTests),
		slog.Int("batches", plan.Statistics.TotalBatches),
		slog.Int("merged", plan.Statistics.MergedBatches),
		slog.Int64("total_duration_ms", plan.Statistics.TotalEstimatedDurationMs),
		slog.Duration("duration", time.Since(start)))

	return plan, nil
}

// BuildPlan batches an analysis without touching the filesystem.
//
// Description:
//
//	 1. Filters the analysis to phase.
//	 2. Splits the tests into pools: one per predefined group (a test goes
//	    to the first group it matches) and one for the rest.
//	 3. Splits each pool into independent groups with the dependency graph.
//	 4. Sorts each group by the balance strategy and packs it greedily.
//	 5. Rebalances with a single merge pass.
//
//	The same analysis and options always yield the same batch membership.
//
// Inputs:
//   - analysis: Project analysis. Must not be nil.
//   - phase: Phase filter. Empty means every phase.
//   - groups: Predefined parallel groups. May be nil.
//   - opts: Batching options.
//
// Outputs:
//   - *Plan: The plan, with ID and CreatedAt set.
//   - error: ErrInvalidOptions.
func BuildPlan(analysis *analyzer.ProjectAnalysis, phase testunit.Phase, groups []config.ParallelGroup, opts Options) (*Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, fmt.Errorf("batch: analysis must not be nil")
	}

	var drafts []*draft
	for _, p := range partitionPools(analysis.Units(phase), groups) {
		for _, independent := range analysis.Graph.ParallelGroups("", p.units) {
			sortForStrategy(independent, opts.BalanceStrategy)
			drafts = append(drafts, pack(p.name, independent, opts)...)
		}
	}

	drafts, merged := rebalance(drafts, analysis.Graph, opts)

	batches := make([]*Batch, len(drafts))
	for i, d := range drafts {
		batches[i] = d.finalize(fmt.Sprintf("batch-%d", i+1), analysis.Project, phase, opts)
	}

	return &Plan{
		ID:         uuid.NewString(),
		Project:    analysis.Project,
		Phase:      phase,
		CreatedAt:  time.Now().UTC(),
		Options:    opts,
		Batches:    batches,
		Statistics: planStatistics(batches, merged, len(analysis.Skipped)),
	}, nil
}

type pool struct {
	name  string
	units []*testunit.TestUnit
}

// partitionPools splits units by predefined group, in group order, with
// the unmatched remainder last. Empty pools are dropped.
func partitionPools(units []*testunit.TestUnit, groups []config.ParallelGroup) []pool {
	if len(groups) == 0 {
		return []pool{{units: units}}
	}

	byName := make(map[string][]*testunit.TestUnit, len(groups))
	var rest []*testunit.TestUnit
	for _, u := range units {
		if name, ok := config.MatchGroup(groups, u.File); ok {
			byName[name] = append(byName[name], u)
			continue
		}
		rest = append(rest, u)
	}

	pools := make([]pool, 0, len(groups)+1)
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if seen[g.Name] || len(byName[g.Name]) == 0 {
			continue
		}
		seen[g.Name] = true
		pools = append(pools, pool{name: g.Name, units: byName[g.Name]})
	}
	if len(rest) > 0 {
		pools = append(pools, pool{units: rest})
	}
	return pools
}

// sortForStrategy orders units in place. The sort is stable so ties keep
// the group order.
func sortForStrategy(units []*testunit.TestUnit, strategy Strategy) {
	var less func(a, b *testunit.TestUnit) bool
	switch strategy {
	case StrategyCount:
		less = func(a, b *testunit.TestUnit) bool {
			return classify.IOWeight(a) > classify.IOWeight(b)
		}
	case StrategyBalanced:
		less = func(a, b *testunit.TestUnit) bool {
			if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
				return wa > wb
			}
			return a.EstimatedDurationMs > b.EstimatedDurationMs
		}
	default:
		less = func(a, b *testunit.TestUnit) bool {
			return a.EstimatedDurationMs > b.EstimatedDurationMs
		}
	}
	sort.SliceStable(units, func(i, j int) bool { return less(units[i], units[j]) })
}

// pack greedily fills batches in order. A test that does not fit closes the
// current batch and opens the next one, so a single test longer than the
// duration limit still gets a batch of its own.
func pack(group string, units []*testunit.TestUnit, opts Options) []*draft {
	var drafts []*draft
	current := &draft{group: group}

	for _, u := range units {
		if len(current.units) > 0 && !fits(current, u, opts) {
			drafts = append(drafts, current)
			current = &draft{group: group}
		}
		current.add(u)
	}
	if len(current.units) > 0 {
		drafts = append(drafts, current)
	}
	return drafts
}

func fits(d *draft, u *testunit.TestUnit, opts Options) bool {
	if len(d.units) >= opts.MaxBatchSize {
		return false
	}
	if d.durationMs+u.EstimatedDurationMs > opts.MaxBatchDurationMs {
		return false
	}
	if opts.ResourceAware {
		for _, member := range d.units {
			if testunit.SharesExternal(member, u) {
				return false
			}
		}
	}
	return true
}
