// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testplan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
)

// =============================================================================
// Prometheus Metrics for Planning
// =============================================================================

var (
	// analyzeTotal counts project analyses by outcome.
	// Labels: status (ok, error)
	analyzeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "analyze_total",
		Help:      "Total project analyses by outcome",
	}, []string{"status"})

	// analyzeLatencySeconds measures analysis latency, cache hits included.
	analyzeLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "analyze_latency_seconds",
		Help:      "Project analysis latency including cache hits",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// planRequestsTotal counts plan requests by outcome.
	// Labels: status (ok, error)
	planRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "plan_requests_total",
		Help:      "Total batch plan requests by outcome",
	}, []string{"status"})

	// planBatches observes the number of batches per plan.
	planBatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "plan_batches",
		Help:      "Number of batches per plan",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	// planParallelSeconds observes the estimated parallel wall time of plans.
	planParallelSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "plan_parallel_duration_seconds",
		Help:      "Estimated wall time of a plan when batches run one after another",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})

	// cacheInvalidationsTotal counts invalidations that dropped an analysis.
	cacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "testplan",
		Subsystem: "service",
		Name:      "cache_invalidations_total",
		Help:      "Cached analyses dropped by explicit invalidation",
	})
)

// Project names are caller supplied, so they are kept out of label values.
func recordAnalyze(latency time.Duration, err error) {
	analyzeTotal.WithLabelValues(status(err)).Inc()
	analyzeLatencySeconds.Observe(latency.Seconds())
}

func recordPlanRequest(err error) {
	planRequestsTotal.WithLabelValues(status(err)).Inc()
}

func recordPlan(plan *batch.Plan) {
	planBatches.Observe(float64(plan.Statistics.TotalBatches))
	planParallelSeconds.Observe(float64(plan.Statistics.EstimatedParallelDurationMs) / 1000)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
