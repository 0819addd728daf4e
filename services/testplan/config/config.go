// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads testplan.config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the workspace root.
const FileName = "testplan.config.yaml"

// Defaults applied to omitted fields.
const (
	DefaultTestDir            = "tests"
	DefaultMaxBatchSize       = 3
	DefaultMaxBatchDurationMs = 300000
	DefaultBalanceStrategy    = "duration"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid testplan config")

var validate = validator.New()

// Config is the parsed testplan.config.yaml.
//
// Description:
//
//	All fields are optional. A missing file yields Default(). Zero values
//	mean "use the default"; negative sizes and unknown strategies are
//	rejected.
//
// Thread Safety: Immutable after loading; safe for concurrent reads.
type Config struct {
	// TestDir is the directory under the workspace root holding one
	// subdirectory per project.
	TestDir string `yaml:"test_dir"`

	// Projects holds per-project overrides keyed by project name.
	Projects map[string]ProjectConfig `yaml:"projects" validate:"dive"`

	Batching BatchingConfig `yaml:"batching"`

	Analysis AnalysisConfig `yaml:"analysis"`
}

// ProjectConfig holds overrides for one project.
type ProjectConfig struct {
	// TestRoot replaces <test_dir>/<project>. Relative paths are resolved
	// against the workspace root.
	TestRoot string `yaml:"test_root"`

	// ParallelGroups are predefined pools. Tests matching a group are
	// batched only with other tests of the same group.
	ParallelGroups []ParallelGroup `yaml:"parallel_groups" validate:"dive"`
}

// ParallelGroup is a named set of glob patterns over test-root-relative
// paths.
type ParallelGroup struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Patterns []string `yaml:"patterns" json:"patterns" validate:"required,min=1,dive,required"`
}

// BatchingConfig holds batcher defaults. CLI flags and API requests
// override these.
type BatchingConfig struct {
	MaxBatchSize       int    `yaml:"max_batch_size" validate:"gte=0"`
	MaxBatchDurationMs int64  `yaml:"max_batch_duration_ms" validate:"gte=0"`
	BalanceStrategy    string `yaml:"balance_strategy" validate:"omitempty,oneof=duration count balanced"`

	// ResourceAware is a pointer so an explicit false survives defaulting.
	ResourceAware *bool `yaml:"resource_aware"`
}

// AnalysisConfig tunes parsing.
type AnalysisConfig struct {
	// Workers bounds concurrent file parsing. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`

	// TolerantParsing analyzes files with syntax errors instead of skipping.
	TolerantParsing bool `yaml:"tolerant_parsing"`

	// MaxFileSizeBytes skips larger files. Zero means the parser default.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads FileName from workspaceRoot.
//
// Description:
//
//	A missing file is not an error: Default() is returned. Only an
//	unreadable file, invalid YAML or a failed validation is an error.
//
// Inputs:
//   - workspaceRoot: Directory holding the config. Empty means Default().
//
// Outputs:
//   - *Config: Validated config with defaults applied.
//   - error: Non-nil for unreadable, unparsable or invalid files.
func Load(workspaceRoot string) (*Config, error) {
	if workspaceRoot == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Join(workspaceRoot, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return Parse(data)
}

// Parse parses, validates and defaults config YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for name, p := range cfg.Projects {
		for _, g := range p.ParallelGroups {
			for _, pattern := range g.Patterns {
				if _, err := path.Match(pattern, ""); err != nil {
					return nil, fmt.Errorf("%w: project %s group %s pattern %q: %v", ErrInvalidConfig, name, g.Name, pattern, err)
				}
			}
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TestDir == "" {
		c.TestDir = DefaultTestDir
	}
	if c.Batching.MaxBatchSize <= 0 {
		c.Batching.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.Batching.MaxBatchDurationMs <= 0 {
		c.Batching.MaxBatchDurationMs = DefaultMaxBatchDurationMs
	}
	if c.Batching.BalanceStrategy == "" {
		c.Batching.BalanceStrategy = DefaultBalanceStrategy
	}
	if c.Batching.ResourceAware == nil {
		resourceAware := true
		c.Batching.ResourceAware = &resourceAware
	}
	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = runtime.GOMAXPROCS(0)
	}
}

// TestRoot returns the absolute-or-workspace-relative test root of project.
func (c *Config) TestRoot(workspaceRoot, project string) string {
	if p, ok := c.Projects[project]; ok && p.TestRoot != "" {
		if filepath.IsAbs(p.TestRoot) {
			return p.TestRoot
		}
		return filepath.Join(workspaceRoot, p.TestRoot)
	}
	return filepath.Join(workspaceRoot, c.TestDir, project)
}

// ParallelGroups returns the predefined groups of project, or nil.
func (c *Config) ParallelGroups(project string) []ParallelGroup {
	return c.Projects[project].ParallelGroups
}

// MatchGroup returns the name of the first group with a pattern matching
// relPath. A pattern without '/' is also tried against the base name, so
// "*.smoke.spec.ts" matches in any directory.
func MatchGroup(groups []ParallelGroup, relPath string) (string, bool) {
	relPath = filepath.ToSlash(relPath)
	base := path.Base(relPath)
	for _, g := range groups {
		for _, pattern := range g.Patterns {
			if ok, _ := path.Match(pattern, relPath); ok {
				return g.Name, true
			}
			if !strings.Contains(pattern, "/") {
				if ok, _ := path.Match(pattern, base); ok {
					return g.Name, true
				}
			}
		}
	}
	return "", false
}
