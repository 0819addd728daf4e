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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
)

// ErrInvalidOptions is returned when batching options fail validation.
var ErrInvalidOptions = errors.New("invalid batching options")

var validate = validator.New()

// Strategy orders the tests of a group before packing.
type Strategy string

const (
	// StrategyDuration packs the longest tests first.
	StrategyDuration Strategy = "duration"

	// StrategyCount packs the tests with the most I/O first.
	StrategyCount Strategy = "count"

	// StrategyBalanced packs by priority, then by duration.
	StrategyBalanced Strategy = "balanced"
)

// Options controls batch packing and rebalancing.
type Options struct {
	MaxBatchSize       int      `json:"maxBatchSize" yaml:"max_batch_size" validate:"gte=1"`
	MaxBatchDurationMs int64    `json:"maxBatchDurationMs" yaml:"max_batch_duration_ms" validate:"gte=1"`
	BalanceStrategy    Strategy `json:"balanceStrategy" yaml:"balance_strategy" validate:"oneof=duration count balanced"`
	ResourceAware      bool     `json:"resourceAware" yaml:"resource_aware"`
}

// DefaultOptions returns the default batching options.
func DefaultOptions() Options {
	return Options{
		MaxBatchSize:       config.DefaultMaxBatchSize,
		MaxBatchDurationMs: config.DefaultMaxBatchDurationMs,
		BalanceStrategy:    StrategyDuration,
		ResourceAware:      true,
	}
}

// OptionsFromConfig converts the batching section of a config. Zero values
// fall back to the defaults.
func OptionsFromConfig(cfg config.BatchingConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxBatchSize > 0 {
		opts.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxBatchDurationMs > 0 {
		opts.MaxBatchDurationMs = cfg.MaxBatchDurationMs
	}
	if cfg.BalanceStrategy != "" {
		opts.BalanceStrategy = Strategy(cfg.BalanceStrategy)
	}
	if cfg.ResourceAware != nil {
		opts.ResourceAware = *cfg.ResourceAware
	}
	return opts
}

// Validate checks the options. Non-positive limits and unknown strategies
// are rejected rather than producing empty or unbounded batches.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
