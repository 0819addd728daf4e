// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.testplan.ast")
	meter  = otel.Meter("aleutian.testplan.ast")
)

// Parse outcomes, recorded as the "outcome" attribute. Every outcome but
// OutcomeOK means the test file is skipped by the analyzer.
const (
	OutcomeOK             = "ok"
	OutcomeSyntaxError    = "syntax_error"
	OutcomeTooLarge       = "too_large"
	OutcomeInvalidContent = "invalid_content"
	OutcomeCanceled       = "canceled"
	OutcomeFailed         = "failed"
)

var (
	parseDuration metric.Float64Histogram
	parseOutcomes metric.Int64Counter
	parsedBytes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseDuration, err = meter.Float64Histogram(
			"testplan_parse_duration_seconds",
			metric.WithDescription("Time to parse one test file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseOutcomes, err = meter.Int64Counter(
			"testplan_parse_outcomes_total",
			metric.WithDescription("Test file parses by language and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parsedBytes, err = meter.Int64Histogram(
			"testplan_parsed_file_bytes",
			metric.WithDescription("Size of test files that parsed cleanly"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// ParseOutcome maps a Parse error to its metric outcome.
func ParseOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, ErrFileTooLarge):
		return OutcomeTooLarge
	case errors.Is(err, ErrInvalidContent):
		return OutcomeInvalidContent
	case errors.Is(err, ErrParseFailed):
		return OutcomeSyntaxError
	default:
		return OutcomeFailed
	}
}

// recordParse records one parse. size is the content length in bytes and
// is only recorded for clean parses.
func recordParse(ctx context.Context, language string, duration time.Duration, size int, err error) {
	if initMetrics() != nil {
		return
	}

	outcome := ParseOutcome(err)
	parseDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("language", language)))
	parseOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("outcome", outcome),
	))
	if outcome == OutcomeOK {
		parsedBytes.Record(ctx, int64(size),
			metric.WithAttributes(attribute.String("language", language)))
	}
}

func startParseSpan(ctx context.Context, language, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("testplan.language", language),
			attribute.String("testplan.file", filePath),
			attribute.Int("testplan.content_bytes", contentSize),
		),
	)
}
