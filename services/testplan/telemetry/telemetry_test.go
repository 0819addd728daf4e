// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cfg := DefaultConfig()
	assert.Equal(t, ExporterStdout, cfg.TraceExporter)
	assert.Equal(t, ExporterNone, cfg.MetricExporter)
	assert.Equal(t, "aleutian-testplan", cfg.ServiceName)
}

func TestInit_None(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		trace  string
		metric string
	}{
		{"trace", "zipkin", ExporterNone},
		{"metric", ExporterNone, "statsd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tt.trace
			cfg.MetricExporter = tt.metric

			_, err := Init(context.Background(), cfg)
			assert.True(t, errors.Is(err, ErrUnknownExporter), "got %v", err)
		})
	}
}

func TestInit_StdoutAndPrometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterPrometheus

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, MetricsHandler())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_OTLPConnectsLazily(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.TraceExporter = ExporterOTLP
		cfg.MetricExporter = ExporterNone
		cfg.OTLPEndpoint = "127.0.0.1:1"
		cfg.OTLPInsecure = insecure

		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = shutdown(ctx)
		cancel()
	}
}
