package workflow

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/courseforge/courseforge/internal/detect"
)

// Row is one unit of the work plan: a single piece of content to produce.
type Row struct {
	ID            string `json:"id"`
	Module        int    `json:"module"`
	Lesson        int    `json:"lesson"`
	Step          int    `json:"step"`
	ContentType   string `json:"content_type"`
	Title         string `json:"title"`
	Brief         string `json:"brief"`
	TargetLearner string `json:"target_learner"`
}

// RowResult accumulates everything produced for a row.
type RowResult struct {
	Row         Row           `json:"row"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	PlanRaw     string        `json:"plan,omitempty"`
	PlanFinal   string        `json:"plan_final,omitempty"`
	Critique    string        `json:"critique,omitempty"`
	Generations []string      `json:"generations,omitempty"`
	BestVersion string        `json:"best_version,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
	Reviewed    string        `json:"reviewed,omitempty"`
	Final       string        `json:"final,omitempty"`
	Detection   detect.Report `json:"detection"`
	Edited      bool          `json:"edited,omitempty"`
	LogEntries  []LogEntry    `json:"log_entries,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

func (r *RowResult) log(step, status, message string) {
	r.LogEntries = append(r.LogEntries, LogEntry{
		Timestamp: time.Now().UTC(),
		Step:      step,
		Status:    status,
		Message:   message,
	})
}

// LoadRows reads a work plan CSV. Required columns: module, lesson, step,
// content_type, title, brief. Optional: target_learner.
func LoadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open work plan: %w", err)
	}
	defer f.Close()
	return ParseRows(f)
}

// ParseRows parses work plan CSV content.
func ParseRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read work plan header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"module", "lesson", "step", "content_type", "title", "brief"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("work plan missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read work plan line %d: %w", line, err)
		}
		module, err := strconv.Atoi(field(record, "module"))
		if err != nil {
			return nil, fmt.Errorf("work plan line %d: bad module: %w", line, err)
		}
		lesson, err := strconv.Atoi(field(record, "lesson"))
		if err != nil {
			return nil, fmt.Errorf("work plan line %d: bad lesson: %w", line, err)
		}
		step, err := strconv.Atoi(field(record, "step"))
		if err != nil {
			return nil, fmt.Errorf("work plan line %d: bad step: %w", line, err)
		}
		row := Row{
			Module:        module,
			Lesson:        lesson,
			Step:          step,
			ContentType:   field(record, "content_type"),
			Title:         field(record, "title"),
			Brief:         field(record, "brief"),
			TargetLearner: field(record, "target_learner"),
		}
		row.ID = RowID(row)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("work plan has no rows")
	}
	return rows, nil
}

// RowID derives the canonical row identifier used in filters, artifacts and
// summaries.
func RowID(row Row) string {
	return fmt.Sprintf("M%d-L%d-S%d", row.Module, row.Lesson, row.Step)
}

// FilterRows keeps only rows whose ID is in selected. An empty selection
// keeps everything. Unknown IDs are reported so typos fail loudly.
func FilterRows(rows []Row, selected []string) ([]Row, error) {
	if len(selected) == 0 {
		return rows, nil
	}
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[strings.TrimSpace(id)] = false
	}
	var out []Row
	for _, row := range rows {
		if _, ok := want[row.ID]; ok {
			want[row.ID] = true
			out = append(out, row)
		}
	}
	for id, found := range want {
		if !found {
			return nil, fmt.Errorf("selected row %q not present in work plan", id)
		}
	}
	return out, nil
}
