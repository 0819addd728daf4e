// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianTestPlan/pkg/logging"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/telemetry"
)

var (
	workspaceDir string
	logLevel     string
	logDir       string
	logJSON      bool
	jsonOutput   bool

	phaseFlag        string
	maxBatchSize     int
	maxBatchDuration int64
	strategyFlag     string
	resourceAware    bool
	outPath          string
	storeDir         string

	servePort  int
	serveDebug bool

	plansProject string
	plansLimit   int

	appLogger         *logging.Logger
	shutdownTelemetry func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "testplan",
		Short: "Analyze end-to-end tests and plan parallel batches",
		Long: `testplan statically analyzes Playwright style test files, builds the
dependency graph between them and packs independent tests into batches.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze <project>",
		Short: "Analyze the tests of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}

	batchCmd = &cobra.Command{
		Use:   "batch <project>",
		Short: "Create a batch plan for a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the planning HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	watchCmd = &cobra.Command{
		Use:   "watch <project>",
		Short: "Re-plan a project whenever its test files change",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	plansCmd = &cobra.Command{
		Use:   "plans",
		Short: "Inspect saved plans",
	}

	plansListCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved plans, newest first",
		Args:  cobra.NoArgs,
		RunE:  runPlansList,
	}

	plansShowCmd = &cobra.Command{
		Use:   "show <plan-id|latest>",
		Short: "Show a saved plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlansShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "Workspace root holding the test tree and "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write console logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(analyzeCmd)

	rootCmd.AddCommand(batchCmd)
	addBatchFlags(batchCmd)
	batchCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the plan config to this file (.json, .yaml or .yml)")
	batchCmd.Flags().StringVar(&storeDir, "store", "", "Save the plan to the BadgerDB store in this directory")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8090, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
	serveCmd.Flags().StringVar(&storeDir, "store", "", "Persist plans to the BadgerDB store in this directory")

	rootCmd.AddCommand(watchCmd)
	addBatchFlags(watchCmd)
	watchCmd.Flags().StringVarP(&outPath, "out", "o", "", "Rewrite the plan config to this file after every change")

	rootCmd.AddCommand(plansCmd)
	plansCmd.PersistentFlags().StringVar(&storeDir, "store", "", "BadgerDB store directory (required)")
	plansCmd.AddCommand(plansListCmd)
	plansListCmd.Flags().StringVar(&plansProject, "project", "", "Only list plans of this project")
	plansListCmd.Flags().IntVar(&plansLimit, "limit", 20, "Maximum number of plans")
	plansCmd.AddCommand(plansShowCmd)
	plansShowCmd.Flags().StringVar(&plansProject, "project", "", "Project whose latest plan to show with 'latest'")
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&phaseFlag, "phase", "", "Only batch tests of this phase: foundation, business, integration")
	cmd.Flags().IntVar(&maxBatchSize, "max-batch-size", config.DefaultMaxBatchSize, "Maximum tests per batch")
	cmd.Flags().Int64Var(&maxBatchDuration, "max-batch-duration", config.DefaultMaxBatchDurationMs, "Maximum estimated batch duration in milliseconds")
	cmd.Flags().StringVar(&strategyFlag, "strategy", string(batch.StrategyDuration), "Balance strategy: duration, count, balanced")
	cmd.Flags().BoolVar(&resourceAware, "resource-aware", true, "Keep tests sharing an external service in separate batches")
}

// batchOptions starts from the config file and applies the flags the user
// set explicitly.
func batchOptions(cmd *cobra.Command, cfg *config.Config) (batch.Options, error) {
	opts := batch.OptionsFromConfig(cfg.Batching)
	flags := cmd.Flags()
	if flags.Changed("max-batch-size") {
		opts.MaxBatchSize = maxBatchSize
	}
	if flags.Changed("max-batch-duration") {
		opts.MaxBatchDurationMs = maxBatchDuration
	}
	if flags.Changed("strategy") {
		opts.BalanceStrategy = batch.Strategy(strategyFlag)
	}
	if flags.Changed("resource-aware") {
		opts.ResourceAware = resourceAware
	}
	return opts, opts.Validate()
}

func setup(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	appLogger, err = logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "testplan",
		JSON:    logJSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	slog.SetDefault(appLogger.Slog())

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTelemetry, err = telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(context.WithoutCancel(cmd.Context())); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		shutdownTelemetry = nil
	}
	if appLogger != nil {
		return appLogger.Close()
	}
	return nil
}
