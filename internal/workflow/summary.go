package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RowSummary is the per-row line of a run summary.
type RowSummary struct {
	RowID      string `json:"row_id"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RunSummary aggregates a run: per-row outcomes plus success/error counts.
type RunSummary struct {
	RunID        string       `json:"run_id"`
	Phase        string       `json:"phase"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  time.Time    `json:"completed_at"`
	SuccessCount int          `json:"success_count"`
	ErrorCount   int          `json:"error_count"`
	Rows         []RowSummary `json:"rows"`
	OutputDir    string       `json:"output_dir"`
}

// BuildSummary folds row results into a RunSummary. outputPaths maps row IDs
// to their written content files.
func BuildSummary(runID, phase string, startedAt time.Time, results []RowResult, outputDir string, outputPaths map[string]string) RunSummary {
	summary := RunSummary{
		RunID:       runID,
		Phase:       phase,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		OutputDir:   outputDir,
		Rows:        make([]RowSummary, 0, len(results)),
	}
	for _, res := range results {
		rs := RowSummary{
			RowID:      res.Row.ID,
			Status:     res.Status,
			Error:      res.Error,
			OutputPath: outputPaths[res.Row.ID],
		}
		if !res.CompletedAt.IsZero() {
			rs.DurationMS = res.CompletedAt.Sub(res.StartedAt).Milliseconds()
		}
		if res.Status == StatusWorkflowComplete {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
		}
		summary.Rows = append(summary.Rows, rs)
	}
	return summary
}

// WriteSummary persists a summary under <dir>/summaries. name distinguishes
// per-phase snapshots from the final summary.
func (a *ArtifactStore) WriteSummary(summary RunSummary, name string) (string, error) {
	dir := filepath.Join(a.dir, "summaries")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", summary.RunID, name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
