package workflow

import (
	"strings"
	"time"
)

// Status tracks a row through the pipeline. Failure statuses are terminal for
// the row; they never abort sibling rows.
type Status string

const (
	StatusInitialized        Status = "INITIALIZED"
	StatusPlanGenerated      Status = "PLAN_GENERATED"
	StatusPlanFinalized      Status = "PLAN_FINALIZED"
	StatusGenerationComplete Status = "GENERATION_COMPLETE"
	StatusWorkflowComplete   Status = "WORKFLOW_COMPLETE"

	StatusPlanFailed       Status = "PLAN_FAILED"
	StatusRefinementFailed Status = "REFINEMENT_FAILED"
	StatusGenerationFailed Status = "GENERATION_FAILED"
	StatusComparisonFailed Status = "COMPARISON_FAILED"
	StatusReviewFailed     Status = "REVIEW_FAILED"
	StatusDetectionFailed  Status = "DETECTION_FAILED"
)

// Failed reports whether s is a terminal failure status.
func (s Status) Failed() bool { return strings.HasSuffix(string(s), "_FAILED") }

// LogEntry records one step of a row's processing history.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}
