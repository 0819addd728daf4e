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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTestPlan/pkg/ux"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/config"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/telemetry"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/watch"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspaceDir)
	if err != nil {
		return err
	}
	a := analyzer.New(workspaceDir, cfg, analyzer.WithLogger(slog.Default()))
	analysis, err := a.AnalyzeProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, testplan.NewAnalyzeResponse(analysis))
	}
	printer(cmd).PrintAnalysis(analysis)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspaceDir)
	if err != nil {
		return err
	}
	opts, err := batchOptions(cmd, cfg)
	if err != nil {
		return err
	}
	phase, err := testunit.ParsePhase(phaseFlag)
	if err != nil {
		return err
	}

	var svcOpts []testplan.ServiceOption
	if storeDir != "" {
		db, store, err := openStore(storeDir)
		if err != nil {
			return err
		}
		defer db.Close()
		svcOpts = append(svcOpts, testplan.WithStore(store))
	}
	svc, err := testplan.NewService(workspaceDir, cfg, append(svcOpts, testplan.WithServiceLogger(slog.Default()))...)
	if err != nil {
		return err
	}

	plan, meta, err := svc.CreatePlan(cmd.Context(), args[0], phase, opts)
	if err != nil {
		return err
	}
	if outPath != "" {
		if err := batch.WritePlanConfig(outPath, plan); err != nil {
			return err
		}
	}

	if jsonOutput {
		return writeJSON(cmd, plan)
	}
	p := printer(cmd)
	p.PrintPlan(plan)
	if outPath != "" {
		p.Success("plan config written to %s", outPath)
	}
	if meta != nil {
		p.Success("plan %s saved", meta.PlanID)
	} else if storeDir != "" {
		p.Warning("plan was not saved, see log")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(workspaceDir)
	if err != nil {
		return err
	}

	svcOpts := []testplan.ServiceOption{testplan.WithServiceLogger(slog.Default())}
	if storeDir != "" {
		db, store, err := openStore(storeDir)
		if err != nil {
			return err
		}
		defer db.Close()
		svcOpts = append(svcOpts, testplan.WithStore(store))
	}
	svc, err := testplan.NewService(workspaceDir, cfg, svcOpts...)
	if err != nil {
		return err
	}

	router := testplan.NewRouter(svc, telemetry.MetricsHandler())
	if serveDebug {
		router.Use(gin.Logger())
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting testplan server",
			slog.String("address", srv.Addr),
			slog.String("workspace", workspaceDir),
			slog.Bool("store", svc.HasStore()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down testplan server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	project := args[0]
	cfg, err := config.Load(workspaceDir)
	if err != nil {
		return err
	}
	opts, err := batchOptions(cmd, cfg)
	if err != nil {
		return err
	}
	phase, err := testunit.ParsePhase(phaseFlag)
	if err != nil {
		return err
	}

	a := analyzer.New(workspaceDir, cfg, analyzer.WithLogger(slog.Default()))
	b, err := batch.New(a, cfg, batch.WithLogger(slog.Default()), batch.WithOptions(opts))
	if err != nil {
		return err
	}
	p := printer(cmd)

	replan := func(ctx context.Context) {
		plan, err := b.CreateBatchesForProject(ctx, project, phase)
		if err != nil {
			slog.Error("re-planning failed",
				slog.String("project", project),
				slog.String("error", err.Error()))
			return
		}
		if outPath != "" {
			if err := batch.WritePlanConfig(outPath, plan); err != nil {
				slog.Error("writing plan config failed",
					slog.String("path", outPath),
					slog.String("error", err.Error()))
				return
			}
		}
		p.PrintPlan(plan)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replan(ctx)

	w, err := watch.New(project, a.TestRoot(project), a,
		func(ctx context.Context, changes []watch.Change) {
			for _, c := range changes {
				slog.Debug("test file changed",
					slog.String("path", c.Path),
					slog.String("op", c.Op.String()))
			}
			replan(ctx)
		},
		watch.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	<-ctx.Done()
	return nil
}

func runPlansList(cmd *cobra.Command, _ []string) error {
	db, store, err := openStore(storeDir)
	if err != nil {
		return err
	}
	defer db.Close()

	plans, err := store.List(cmd.Context(), plansProject, plansLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, plans)
	}
	printer(cmd).PrintPlanList(plans)
	return nil
}

func runPlansShow(cmd *cobra.Command, args []string) error {
	db, store, err := openStore(storeDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var plan *batch.Plan
	if args[0] == "latest" {
		if plansProject == "" {
			return errors.New("--project is required with 'latest'")
		}
		plan, _, err = store.LoadLatest(cmd.Context(), plansProject)
	} else {
		plan, _, err = store.Load(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, plan)
	}
	printer(cmd).PrintPlan(plan)
	return nil
}

func openStore(dir string) (*badger.DB, *storage.PlanStore, error) {
	if dir == "" {
		return nil, nil, errors.New("--store is required")
	}
	db, err := storage.OpenDB(dir)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewPlanStore(db, slog.Default())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

func printer(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok {
		return ux.NewPrinter(out, ux.DetectMode(f))
	}
	return ux.NewPrinter(out, ux.ModePlain)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
