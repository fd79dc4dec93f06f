package workflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courseforge/courseforge/config"
)

// Telemetry receives row and stage outcomes. Implemented by the telemetry
// package; a nil Telemetry disables recording.
type Telemetry interface {
	RecordRow(status Status, duration time.Duration)
	RecordStage(stage string, duration time.Duration, err error)
}

// Runner orchestrates the pipeline: rows run concurrently under a semaphore,
// stages run sequentially within a row, and a failed row never stops its
// siblings.
type Runner struct {
	cfg         config.WorkflowConfig
	stages      *Stages
	contexts    *ContextBuilder
	artifacts   *ArtifactStore
	checkpoints CheckpointManager
	telemetry   Telemetry
	logger      *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckpointManager replaces the default no-op checkpoint manager.
func WithCheckpointManager(cm CheckpointManager) Option {
	return func(r *Runner) {
		if cm != nil {
			r.checkpoints = cm
		}
	}
}

// WithTelemetry wires run metrics.
func WithTelemetry(t Telemetry) Option {
	return func(r *Runner) { r.telemetry = t }
}

// NewRunner builds a Runner. contexts may be nil when retrieval is disabled.
func NewRunner(cfg config.WorkflowConfig, stages *Stages, contexts *ContextBuilder, artifacts *ArtifactStore, logger *log.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKFLOW] ", log.LstdFlags)
	}
	r := &Runner{
		cfg:         cfg,
		stages:      stages,
		contexts:    contexts,
		artifacts:   artifacts,
		checkpoints: NoopCheckpointManager{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the work plan through every phase up to the configured one and
// returns the final summary. Cancellation is observed at row and stage
// boundaries; rows already past a stage keep their persisted artifacts.
func (r *Runner) Run(ctx context.Context, rows []Row) (RunSummary, error) {
	rows, err := FilterRows(rows, r.cfg.SelectedRows)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	r.logger.Printf("run %s: %d rows, phase %s, fan-out %d, concurrency %d",
		runID, len(rows), r.cfg.Phase, r.cfg.FanOut, r.cfg.Concurrency)
	if err := r.checkpoints.StartRun(ctx, runID); err != nil {
		r.logger.Printf("warn: checkpoint run start: %v", err)
	}

	results := make([]RowResult, len(rows))
	outputPaths := make(map[string]string, len(rows))
	var pathsMu sync.Mutex

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range rows {
		wg.Add(1)
		go func(i int, row Row) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				results[i] = RowResult{
					Row:       row,
					Status:    StatusInitialized,
					Error:     fmt.Sprintf("run cancelled before processing: %v", ctx.Err()),
					StartedAt: time.Now().UTC(),
				}
				results[i].CompletedAt = results[i].StartedAt
				return
			}

			res, outputPath := r.processRow(ctx, runID, row)
			results[i] = res
			if outputPath != "" {
				pathsMu.Lock()
				outputPaths[row.ID] = outputPath
				pathsMu.Unlock()
			}
			if r.telemetry != nil {
				r.telemetry.RecordRow(res.Status, res.CompletedAt.Sub(res.StartedAt))
			}
		}(i, rows[i])
	}
	wg.Wait()

	summary := BuildSummary(runID, r.cfg.Phase, startedAt, results, r.artifacts.Dir(), outputPaths)
	if _, err := r.artifacts.WriteSummary(summary, r.cfg.Phase); err != nil {
		r.logger.Printf("warn: write phase summary: %v", err)
	}
	if _, err := r.artifacts.WriteSummary(summary, "final"); err != nil {
		r.logger.Printf("warn: write final summary: %v", err)
	}
	r.logger.Printf("run %s complete: %d succeeded, %d failed", runID, summary.SuccessCount, summary.ErrorCount)
	return summary, nil
}

// refineArtifact is the persisted refinement result.
type refineArtifact struct {
	PlanFinal string `json:"plan_final"`
	Critique  string `json:"critique"`
}

// compareArtifact is the persisted comparison result.
type compareArtifact struct {
	BestVersion string `json:"best_version"`
	Explanation string `json:"explanation"`
}

// processRow drives a single row through the phase prefix. It returns the row
// result and the final output path, if one was written.
func (r *Runner) processRow(ctx context.Context, runID string, row Row) (RowResult, string) {
	res := RowResult{Row: row, Status: StatusInitialized, StartedAt: time.Now().UTC()}

	fp := RowFingerprint(row, r.stages.models, r.cfg.FanOut)
	maxPhase := config.PhaseOrder(r.cfg.Phase)
	res.log("initialize", "success", fmt.Sprintf("row %s initialized", row.ID))

	ragContext := r.contexts.Build(ctx, row)
	if ragContext != "" {
		res.log("context", "success", fmt.Sprintf("injected %d bytes of reference context", len(ragContext)))
	}

	fail := func(status Status, stage string, err error) {
		res.Status = status
		res.Error = err.Error()
		res.CompletedAt = time.Now().UTC()
		res.log(stage, string(status), err.Error())
		if cerr := r.checkpoints.SaveStageFailure(ctx, runID, row.ID, stage, err); cerr != nil {
			r.logger.Printf("warn: checkpoint failure for row %s: %v", row.ID, cerr)
		}
		if serr := r.artifacts.SaveResult(res); serr != nil {
			r.logger.Printf("warn: row %s: persist result: %v", row.ID, serr)
		}
		r.logger.Printf("row %s: %s failed: %v", row.ID, stage, err)
	}

	// Plan.
	if r.artifacts.LoadStage(row.ID, stagePlan, fp, &res.PlanRaw) {
		res.log(stagePlan, "resumed", "plan restored from artifacts")
	} else {
		if err := ctx.Err(); err != nil {
			fail(StatusPlanFailed, stagePlan, fmt.Errorf("cancelled: %w", err))
			return res, ""
		}
		start := time.Now()
		if err := r.checkpoints.SaveStageStart(ctx, runID, row.ID, stagePlan); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		_, planRaw, err := r.stages.Plan(ctx, row, ragContext)
		if r.telemetry != nil {
			r.telemetry.RecordStage(stagePlan, time.Since(start), err)
		}
		if err != nil {
			fail(StatusPlanFailed, stagePlan, err)
			return res, ""
		}
		if err := r.checkpoints.SaveStageSuccess(ctx, runID, row.ID, stagePlan); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		res.PlanRaw = planRaw
		if err := r.artifacts.SaveStage(row.ID, stagePlan, fp, res.PlanRaw); err != nil {
			r.logger.Printf("warn: row %s: persist plan: %v", row.ID, err)
		}
	}
	res.Status = StatusPlanGenerated
	res.log(stagePlan, "success", "plan generated")

	// Refine.
	var refined refineArtifact
	if r.artifacts.LoadStage(row.ID, stageRefine, fp, &refined) {
		res.log(stageRefine, "resumed", "finalized plan restored from artifacts")
	} else {
		if err := ctx.Err(); err != nil {
			fail(StatusRefinementFailed, stageRefine, fmt.Errorf("cancelled: %w", err))
			return res, ""
		}
		start := time.Now()
		if err := r.checkpoints.SaveStageStart(ctx, runID, row.ID, stageRefine); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		_, planFinal, critique, err := r.stages.Refine(ctx, row, res.PlanRaw)
		if r.telemetry != nil {
			r.telemetry.RecordStage(stageRefine, time.Since(start), err)
		}
		if err != nil {
			fail(StatusRefinementFailed, stageRefine, err)
			return res, ""
		}
		if err := r.checkpoints.SaveStageSuccess(ctx, runID, row.ID, stageRefine); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		refined = refineArtifact{PlanFinal: planFinal, Critique: critique}
		if err := r.artifacts.SaveStage(row.ID, stageRefine, fp, refined); err != nil {
			r.logger.Printf("warn: row %s: persist refined plan: %v", row.ID, err)
		}
	}
	res.PlanFinal = refined.PlanFinal
	res.Critique = refined.Critique
	res.Status = StatusPlanFinalized
	res.log(stageRefine, "success", "plan finalized")

	// Generate fan-out.
	if r.artifacts.LoadStage(row.ID, stageGenerate, fp, &res.Generations) {
		res.log(stageGenerate, "resumed", fmt.Sprintf("%d generations restored from artifacts", len(res.Generations)))
	} else {
		if err := ctx.Err(); err != nil {
			fail(StatusGenerationFailed, stageGenerate, fmt.Errorf("cancelled: %w", err))
			return res, ""
		}
		start := time.Now()
		if err := r.checkpoints.SaveStageStart(ctx, runID, row.ID, stageGenerate); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		generations, err := r.stages.Generate(ctx, row, res.PlanFinal, ragContext, r.cfg.FanOut)
		if r.telemetry != nil {
			r.telemetry.RecordStage(stageGenerate, time.Since(start), err)
		}
		if err != nil {
			fail(StatusGenerationFailed, stageGenerate, err)
			return res, ""
		}
		if err := r.checkpoints.SaveStageSuccess(ctx, runID, row.ID, stageGenerate); err != nil {
			r.logger.Printf("warn: checkpoint: %v", err)
		}
		res.Generations = generations
		if err := r.artifacts.SaveStage(row.ID, stageGenerate, fp, res.Generations); err != nil {
			r.logger.Printf("warn: row %s: persist generations: %v", row.ID, err)
		}
	}
	res.Status = StatusGenerationComplete
	res.log(stageGenerate, "success", fmt.Sprintf("%d versions generated", len(res.Generations)))

	if maxPhase < config.PhaseOrder(config.PhaseCompare) {
		return r.finishRow(ctx, res, "")
	}

	// Compare. Failure falls back to the first generation and the row keeps
	// going.
	var compared compareArtifact
	if r.artifacts.LoadStage(row.ID, stageCompare, fp, &compared) {
		res.log(stageCompare, "resumed", "comparison restored from artifacts")
	} else {
		if err := ctx.Err(); err != nil {
			fail(StatusComparisonFailed, stageCompare, fmt.Errorf("cancelled: %w", err))
			return res, ""
		}
		start := time.Now()
		best, explanation, err := r.stages.Compare(ctx, row, res.Generations)
		if r.telemetry != nil {
			r.telemetry.RecordStage(stageCompare, time.Since(start), err)
		}
		if err != nil {
			res.Error = err.Error()
			res.log(stageCompare, string(StatusComparisonFailed),
				fmt.Sprintf("comparison failed, using first generation: %v", err))
			compared = compareArtifact{
				BestVersion: res.Generations[0],
				Explanation: fmt.Sprintf("Comparison failed (%v); the first generation was used.", err),
			}
		} else {
			compared = compareArtifact{BestVersion: best, Explanation: explanation}
			if err := r.artifacts.SaveStage(row.ID, stageCompare, fp, compared); err != nil {
				r.logger.Printf("warn: row %s: persist comparison: %v", row.ID, err)
			}
		}
	}
	res.BestVersion = compared.BestVersion
	res.Explanation = compared.Explanation
	res.log(stageCompare, "success", "best version selected")

	if maxPhase < config.PhaseOrder(config.PhaseReview) {
		return r.finishRow(ctx, res, "")
	}

	// Review. Failure falls back to the compared version.
	if r.artifacts.LoadStage(row.ID, stageReview, fp, &res.Reviewed) {
		res.log(stageReview, "resumed", "review restored from artifacts")
	} else {
		if err := ctx.Err(); err != nil {
			fail(StatusReviewFailed, stageReview, fmt.Errorf("cancelled: %w", err))
			return res, ""
		}
		start := time.Now()
		reviewed, err := r.stages.Review(ctx, row, res.BestVersion)
		if r.telemetry != nil {
			r.telemetry.RecordStage(stageReview, time.Since(start), err)
		}
		if err != nil {
			res.Error = err.Error()
			res.log(stageReview, string(StatusReviewFailed),
				fmt.Sprintf("review failed, keeping best version: %v", err))
			res.Reviewed = res.BestVersion
		} else {
			res.Reviewed = reviewed
			if err := r.artifacts.SaveStage(row.ID, stageReview, fp, res.Reviewed); err != nil {
				r.logger.Printf("warn: row %s: persist review: %v", row.ID, err)
			}
		}
	}
	res.log(stageReview, "success", "content reviewed")

	if maxPhase < config.PhaseOrder(config.PhaseFinalize) {
		return r.finishRow(ctx, res, "")
	}

	// Detect and humanize. Detection errors never fail the row; cancellation
	// still halts it.
	if err := ctx.Err(); err != nil {
		fail(StatusDetectionFailed, stageEdit, fmt.Errorf("cancelled: %w", err))
		return res, ""
	}
	start := time.Now()
	final, report, edited, err := r.stages.DetectAndEdit(ctx, row, res.Reviewed)
	if r.telemetry != nil {
		r.telemetry.RecordStage(stageEdit, time.Since(start), err)
	}
	res.Final = final
	res.Detection = report
	res.Edited = edited
	if report.Detected {
		res.log(stageEdit, "success", fmt.Sprintf("%d patterns detected, edited=%v", report.Count, edited))
	} else {
		res.log(stageEdit, "success", "no patterns detected")
	}

	outputPath, werr := r.artifacts.WriteFinal(row, res.Final)
	if werr != nil {
		fail(StatusDetectionFailed, stageEdit, fmt.Errorf("write final content: %w", werr))
		return res, ""
	}
	return r.finishRow(ctx, res, outputPath)
}

// finishRow marks a successful end of the requested phase prefix and persists
// the row result.
func (r *Runner) finishRow(ctx context.Context, res RowResult, outputPath string) (RowResult, string) {
	res.Status = StatusWorkflowComplete
	res.log("complete", "success", "workflow complete")
	res.CompletedAt = time.Now().UTC()
	if err := r.artifacts.SaveResult(res); err != nil {
		r.logger.Printf("warn: row %s: persist result: %v", res.Row.ID, err)
	}
	return res, outputPath
}
