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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

var (
	tracer = otel.Tracer("aleutian.testplan.batch")
	meter  = otel.Meter("aleutian.testplan.batch")
)

var (
	planLatency  metric.Float64Histogram
	plansCreated metric.Int64Counter
	batchSizes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		planLatency, err = meter.Float64Histogram(
			"testplan_batch_plan_duration_seconds",
			metric.WithDescription("Duration of batch plan creation including analysis"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		plansCreated, err = meter.Int64Counter(
			"testplan_batch_plans_total",
			metric.WithDescription("Batch plans created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchSizes, err = meter.Int64Histogram(
			"testplan_batch_size_tests",
			metric.WithDescription("Tests per batch"),
			metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 13, 21),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPlanMetrics(ctx context.Context, project string, duration time.Duration, plan *Plan) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("project", project),
		attribute.String("strategy", string(plan.Options.BalanceStrategy)),
	)
	planLatency.Record(ctx, duration.Seconds(), attrs)
	plansCreated.Add(ctx, 1, attrs)
	for _, b := range plan.Batches {
		batchSizes.Record(ctx, int64(b.Statistics.TestCount), attrs)
	}
}

// startBatchSpan creates a span for plan creation. The caller must End it.
func startBatchSpan(ctx context.Context, project string, phase testunit.Phase, opts Options) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Batcher.CreateBatches",
		trace.WithAttributes(
			attribute.String("batch.project", project),
			attribute.String("batch.phase", string(phase)),
			attribute.String("batch.strategy", string(opts.BalanceStrategy)),
			attribute.Int("batch.max_size", opts.MaxBatchSize),
			attribute.Int64("batch.max_duration_ms", opts.MaxBatchDurationMs),
			attribute.Bool("batch.resource_aware", opts.ResourceAware),
		),
	)
}
