package workflow

import (
	"strings"
	"testing"
)

const workPlanCSV = `module,lesson,step,content_type,title,brief,target_learner
1,1,1,lesson,The Water Cycle,"Explain evaporation, condensation and precipitation",Middle school students
1,1,2,quiz,Water Cycle Quiz,Five questions on the water cycle,Middle school students
1,2,1,lesson,Clouds,How clouds form,Middle school students
`

func TestParseRows(t *testing.T) {
	rows, err := ParseRows(strings.NewReader(workPlanCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ID != "M1-L1-S1" {
		t.Fatalf("unexpected row ID %q", rows[0].ID)
	}
	if rows[0].Title != "The Water Cycle" || rows[0].ContentType != "lesson" {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].ContentType != "quiz" {
		t.Fatalf("expected quiz content type, got %q", rows[1].ContentType)
	}
}

func TestParseRows_MissingColumn(t *testing.T) {
	_, err := ParseRows(strings.NewReader("module,lesson,step\n1,1,1\n"))
	if err == nil || !strings.Contains(err.Error(), "missing column") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestParseRows_EmptyPlan(t *testing.T) {
	_, err := ParseRows(strings.NewReader("module,lesson,step,content_type,title,brief\n"))
	if err == nil {
		t.Fatalf("expected error for empty work plan")
	}
}

func TestFilterRows(t *testing.T) {
	rows, err := ParseRows(strings.NewReader(workPlanCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	filtered, err := FilterRows(rows, []string{"M1-L1-S2"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "M1-L1-S2" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}

	all, err := FilterRows(rows, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("empty selection should keep all rows, got %d (%v)", len(all), err)
	}

	if _, err := FilterRows(rows, []string{"M9-L9-S9"}); err == nil {
		t.Fatalf("expected error for unknown row ID")
	}
}
