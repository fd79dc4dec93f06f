package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/detect"
	"github.com/courseforge/courseforge/internal/scheduler"
	"github.com/courseforge/courseforge/internal/store"
	"github.com/courseforge/courseforge/internal/telemetry"
	"github.com/courseforge/courseforge/internal/tokens"
	"github.com/courseforge/courseforge/internal/workflow"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var planPath string
	var phase string
	var rows []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a work plan through the content pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if phase != "" {
				cfg.Workflow.Phase = phase
				if err := cfg.Workflow.Validate(); err != nil {
					return err
				}
			}
			if len(rows) > 0 {
				cfg.Workflow.SelectedRows = rows
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workPlan, err := workflow.LoadRows(planPath)
			if err != nil {
				return err
			}

			execute, cleanup, err := buildRun(ctx, cfg, workPlan)
			if err != nil {
				return err
			}
			defer cleanup()

			if cfg.Schedule.Enabled {
				sched, err := scheduler.New(cfg.Schedule.Cron, execute, newLogger("SCHED"))
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
				<-ctx.Done()
				return nil
			}
			return execute(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&planPath, "plan", "work_plan.csv", "work plan CSV")
	cmd.Flags().StringVar(&phase, "phase", "", "run phases up to this one (generate|compare|review|finalize)")
	cmd.Flags().StringSliceVar(&rows, "rows", nil, "row IDs to process (default all)")
	return cmd
}

// buildRun assembles the pipeline and returns a function that executes one
// full run, plus a cleanup for held resources.
func buildRun(ctx context.Context, cfg *config.Config, workPlan []workflow.Row) (scheduler.RunFunc, func(), error) {
	logger := newLogger("COURSEFORGE")
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, cleanup, err
	}
	counter := tokens.NewCounter(cfg.RAG.TokenCalibration, newLogger("TOKENS"))

	cacheStore, err := buildCache(ctx, cfg, newLogger("CACHE"))
	if err != nil {
		return nil, cleanup, err
	}

	contexts := buildContextBuilder(ctx, cfg, counter, provider, newLogger("RAG"))

	scanner := detect.NewScanner(cfg.Workflow.DetectionThreshold, newLogger("DETECT"))
	stages := workflow.NewStages(provider, cacheStore, scanner,
		cfg.Workflow.Models, cfg.Workflow.TokenBudgets, cfg.Workflow.Temperature, newLogger("STAGES"))

	artifacts, err := workflow.NewArtifactStore(cfg.Workflow.OutputDir)
	if err != nil {
		return nil, cleanup, err
	}

	opts := []workflow.Option{}
	checkpoints, err := workflow.NewFileCheckpointManager(filepath.Join(cfg.Workflow.OutputDir, "checkpoints"))
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, func() { _ = checkpoints.Close() })
	opts = append(opts, workflow.WithCheckpointManager(checkpoints))

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel = telemetry.New(newLogger("TELEMETRY"))
		tel.Serve(cfg.Telemetry.MetricsPort)
		cleanups = append(cleanups, func() { _ = tel.Shutdown(context.Background()) })
		opts = append(opts, workflow.WithTelemetry(tel))
	}

	var history *store.Store
	if cfg.Storage.Postgres.Enabled {
		history, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("run history store: %w", err)
		}
		cleanups = append(cleanups, func() { _ = history.Close() })
	}

	runner := workflow.NewRunner(cfg.Workflow, stages, contexts, artifacts, logger, opts...)

	execute := func(ctx context.Context) error {
		summary, err := runner.Run(ctx, workPlan)
		if err != nil {
			return err
		}
		if tel != nil && cacheStore != nil {
			tel.ObserveCache(cacheStore.Stats())
		}
		if history != nil {
			if err := recordHistory(ctx, history, summary); err != nil {
				logger.Printf("warn: record run history: %v", err)
			}
		}
		logger.Printf("run %s: %d succeeded, %d failed, output in %s",
			summary.RunID, summary.SuccessCount, summary.ErrorCount, summary.OutputDir)
		if summary.ErrorCount > 0 {
			return fmt.Errorf("%d rows failed", summary.ErrorCount)
		}
		return nil
	}
	return execute, cleanup, nil
}

// recordHistory mirrors a run summary into Postgres.
func recordHistory(ctx context.Context, st *store.Store, summary workflow.RunSummary) error {
	if err := st.CreateRun(ctx, summary.RunID, summary.Phase, summary.StartedAt); err != nil {
		return err
	}
	for _, row := range summary.Rows {
		detail, err := json.Marshal(row)
		if err != nil {
			detail = []byte("{}")
		}
		rec := store.RowRecord{
			RunID:      summary.RunID,
			RowID:      row.RowID,
			Status:     string(row.Status),
			Error:      row.Error,
			OutputPath: row.OutputPath,
			DurationMS: row.DurationMS,
			Detail:     detail,
		}
		if err := st.SaveRowResult(ctx, rec); err != nil {
			return err
		}
	}
	return st.CompleteRun(ctx, summary.RunID, summary.CompletedAt, summary.SuccessCount, summary.ErrorCount)
}
