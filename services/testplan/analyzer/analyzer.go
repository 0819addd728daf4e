// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer drives per-file parsing, extraction and classification
// for a whole project and assembles the project's dependency graph.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/classify"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/extract"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/graph"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// ErrInvalidProject is returned for project names that are empty or could
// escape the test directory.
var ErrInvalidProject = errors.New("invalid project name")

// SkippedFile is a test file left out of an analysis.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// ProjectAnalysis is the full analysis of one project.
//
// Description:
//
//	Tests are sorted by key. Categories maps each category to the keys of
//	its tests and is for reporting only. The analysis is immutable once
//	returned; the same pointer may be shared by many callers through the
//	cache.
type ProjectAnalysis struct {
	Project    string               `json:"project"`
	TestRoot   string               `json:"testRoot"`
	Tests      []*testunit.TestUnit `json:"tests"`
	Graph      *graph.Graph         `json:"-"`
	Categories map[string][]string  `json:"categories"`
	Skipped    []SkippedFile        `json:"skipped"`
	AnalyzedAt time.Time            `json:"analyzedAt"`

	byKey map[string]*testunit.TestUnit
}

// Unit returns the test unit with the given key.
func (p *ProjectAnalysis) Unit(key string) (*testunit.TestUnit, bool) {
	u, ok := p.byKey[key]
	return u, ok
}

// Units returns the tests of phase in key order. Empty phase means all.
func (p *ProjectAnalysis) Units(phase testunit.Phase) []*testunit.TestUnit {
	return graph.FilterPhase(p.Tests, phase)
}

// NewProjectAnalysis assembles an analysis from already built units.
//
// Description:
//
//	Sorts units by key, builds the dependency graph and the category index.
//	Used by the analyzer and by callers that construct units directly.
func NewProjectAnalysis(project, testRoot string, units []*testunit.TestUnit, skipped []SkippedFile) *ProjectAnalysis {
	tests := make([]*testunit.TestUnit, 0, len(units))
	for _, u := range units {
		if u != nil {
			tests = append(tests, u)
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].Key < tests[j].Key })

	byKey := make(map[string]*testunit.TestUnit, len(tests))
	categories := make(map[string][]string)
	for _, u := range tests {
		byKey[u.Key] = u
		categories[u.Category] = append(categories[u.Category], u.Key)
	}

	if skipped == nil {
		skipped = []SkippedFile{}
	}

	return &ProjectAnalysis{
		Project:    project,
		TestRoot:   testRoot,
		Tests:      tests,
		Graph:      graph.Build(project, tests),
		Categories: categories,
		Skipped:    skipped,
		AnalyzedAt: time.Now().UTC(),
		byKey:      byKey,
	}
}

// Analyzer analyzes projects under a workspace root.
//
// Thread Safety:
//
//	Safe for concurrent use. Analyses of different projects are independent.
type Analyzer struct {
	workspaceRoot string
	cfg           *config.Config
	registry      *ast.ParserRegistry
	cache         *Cache
	logger        *slog.Logger
	workers       int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRegistry replaces the parser registry built from the config.
func WithRegistry(registry *ast.ParserRegistry) Option {
	return func(a *Analyzer) {
		if registry != nil {
			a.registry = registry
		}
	}
}

// WithCache shares a cache between analyzers.
func WithCache(cache *Cache) Option {
	return func(a *Analyzer) {
		if cache != nil {
			a.cache = cache
		}
	}
}

// WithWorkers bounds concurrent file analysis. Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// New creates an analyzer.
//
// Inputs:
//   - workspaceRoot: Directory test roots are resolved against.
//   - cfg: Configuration. Nil means config.Default().
//   - opts: Optional overrides.
func New(workspaceRoot string, cfg *config.Config, opts ...Option) *Analyzer {
	if cfg == nil {
		cfg = config.Default()
	}

	parserOpts := []ast.ParserOption{ast.WithMaxFileSize(cfg.Analysis.MaxFileSizeBytes)}
	if cfg.Analysis.TolerantParsing {
		parserOpts = append(parserOpts, ast.WithTolerantParsing())
	}

	a := &Analyzer{
		workspaceRoot: workspaceRoot,
		cfg:           cfg,
		registry:      ast.DefaultRegistry(parserOpts...),
		cache:         NewCache(),
		logger:        slog.Default(),
		workers:       max(cfg.Analysis.Workers, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cache returns the analyzer's cache.
func (a *Analyzer) Cache() *Cache {
	return a.cache
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() *config.Config {
	return a.cfg
}

// TestRoot returns the test root of project.
func (a *Analyzer) TestRoot(project string) string {
	return a.cfg.TestRoot(a.workspaceRoot, project)
}

// AnalyzeProject returns the analysis of project, from the cache if present.
//
// Description:
//
//	The first call for a project analyzes it and caches the result.
//	Later calls return the same pointer without re-parsing until
//	Invalidate is called. A missing test root yields an empty analysis.
//
// Outputs:
//   - *ProjectAnalysis: Never nil on success.
//   - error: ErrInvalidProject, context cancellation, or a filesystem error
//     reading the test root. Per-file parse failures are not errors.
func (a *Analyzer) AnalyzeProject(ctx context.Context, project string) (*ProjectAnalysis, error) {
	if err := ValidateProjectName(project); err != nil {
		return nil, err
	}

	analysis, cached, err := a.cache.GetOrBuild(ctx, project, func(ctx context.Context, project string) (*ProjectAnalysis, error) {
		return a.AnalyzeDir(ctx, project, a.TestRoot(project))
	})
	if err != nil {
		return nil, err
	}
	recordCacheLookup(ctx, cached)
	return analysis, nil
}

// Invalidate drops the cached analysis of project.
func (a *Analyzer) Invalidate(project string) bool {
	return a.cache.Invalidate(project)
}

// AnalyzeDir analyzes every test file under root without using the cache.
//
// Description:
//
//	Discovers test files, then reads, parses, extracts and classifies them
//	with at most the configured number of workers. Files that fail to parse
//	are logged at WARN and listed in Skipped.
func (a *Analyzer) AnalyzeDir(ctx context.Context, project, root string) (*ProjectAnalysis, error) {
	ctx, span := startAnalyzeSpan(ctx, project, root)
	defer span.End()
	start := time.Now()

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Info("test root does not exist, returning empty analysis",
				slog.String("project", project),
				slog.String("test_root", root))
			return NewProjectAnalysis(project, root, nil, nil), nil
		}
		return nil, fmt.Errorf("stat test root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test root %s is not a directory", root)
	}

	files, err := DiscoverTestFiles(ctx, root, a.registry)
	if err != nil {
		return nil, fmt.Errorf("discovering test files in %s: %w", root, err)
	}

	units := make([]*testunit.TestUnit, len(files))
	skips := make([]*SkippedFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, rel := range files {
		g.Go(func() error {
			content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}

			unit, err := a.AnalyzeFile(gctx, project, rel, content)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Warn("skipping test file that failed to parse",
					slog.String("project", project),
					slog.String("file", rel),
					slog.String("error", err.Error()))
				skips[i] = &SkippedFile{File: rel, Reason: err.Error()}
				return nil
			}
			units[i] = unit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var skipped []SkippedFile
	for _, s := range skips {
		if s != nil {
			skipped = append(skipped, *s)
		}
	}

	analysis := NewProjectAnalysis(project, root, units, skipped)

	span.SetAttributes(
		attribute.Int("analyzer.files", len(files)),
		attribute.Int("analyzer.tests", len(analysis.Tests)),
		attribute.Int("analyzer.skipped", len(analysis.Skipped)),
		attribute.Int("analyzer.edges", analysis.Graph.EdgeCount()),
	)
	recordAnalysisMetrics(ctx, project, time.Since(start), len(analysis.Tests), len(analysis.Skipped))

	a.logger.Info("project analyzed",
		slog.String("project", project),
		slog.Int("tests", len(analysis.Tests)),
		slog.Int("skipped", len(analysis.Skipped)),
		slog.Int("edges", analysis.Graph.EdgeCount()),
		slog.Duration("duration", time.Since(start)))

	return analysis, nil
}

// AnalyzeFile builds the test unit of one file from its content.
//
// Inputs:
//   - project: Project name used for the unit key.
//   - relPath: Slash-separated path relative to the test root.
//   - content: File content.
//
// Outputs:
//   - *testunit.TestUnit: The analyzed unit.
//   - error: ast.ErrUnsupportedLanguage, a parse error, or a context error.
func (a *Analyzer) AnalyzeFile(ctx context.Context, project, relPath string, content []byte) (*testunit.TestUnit, error) {
	parser, err := a.registry.ParserFor(relPath)
	if err != nil {
		return nil, err
	}

	tree, err := parser.Parse(ctx, content, relPath)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	meta := extract.ExtractMetadata(tree)
	recordExtractedCalls(ctx, tree.Language, extract.CallCounts(meta))
	deps := extract.ExtractDependencies(tree, relPath)
	cls := classify.Classify(meta, deps)

	return &testunit.TestUnit{
		Key:                 testunit.Key(project, relPath),
		Project:             project,
		File:                relPath,
		Metadata:            meta,
		Dependencies:        deps,
		EstimatedDurationMs: classify.EstimateDuration(meta),
		Phase:               cls.Phase,
		Category:            cls.Category,
		Priority:            cls.Priority,
	}, nil
}

// ValidateProjectName rejects names that are empty or contain path syntax.
func ValidateProjectName(project string) error {
	if project == "" || project == "." || project == ".." ||
		strings.ContainsAny(project, `/\:`) || strings.HasPrefix(project, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}
	return nil
}
