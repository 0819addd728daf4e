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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/extract"
)

var (
	tracer = otel.Tracer("aleutian.testplan.analyzer")
	meter  = otel.Meter("aleutian.testplan.analyzer")
)

var (
	analyzeLatency metric.Float64Histogram
	analyzedFiles  metric.Int64Counter
	skippedFiles   metric.Int64Counter
	cacheLookups   metric.Int64Counter
	extractedCalls metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analyzeLatency, err = meter.Float64Histogram(
			"testplan_analyze_duration_seconds",
			metric.WithDescription("Duration of uncached project analysis"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analyzedFiles, err = meter.Int64Counter(
			"testplan_analyzed_files_total",
			metric.WithDescription("Test files analyzed into test units"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedFiles, err = meter.Int64Counter(
			"testplan_skipped_files_total",
			metric.WithDescription("Test files skipped because they failed to parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"testplan_analysis_cache_lookups_total",
			metric.WithDescription("Project analysis lookups by cache outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractedCalls, err = meter.Int64Counter(
			"testplan_extracted_calls_total",
			metric.WithDescription("Recognized test framework calls by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAnalysisMetrics(ctx context.Context, project string, duration time.Duration, tests, skipped int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("project", project))
	analyzeLatency.Record(ctx, duration.Seconds(), attrs)
	analyzedFiles.Add(ctx, int64(tests), attrs)
	skippedFiles.Add(ctx, int64(skipped), attrs)
}

func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordExtractedCalls(ctx context.Context, language string, counts map[extract.CallKind]int) {
	if initMetrics() != nil {
		return
	}
	for kind, n := range counts {
		extractedCalls.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("language", language),
			attribute.String("kind", kind.String()),
		))
	}
}

// startAnalyzeSpan creates a span for an uncached analysis. The caller
// must End it.
func startAnalyzeSpan(ctx context.Context, project, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Analyzer.AnalyzeDir",
		trace.WithAttributes(
			attribute.String("analyzer.project", project),
			attribute.String("analyzer.test_root", root),
		),
	)
}
