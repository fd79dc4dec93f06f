package workflow

import (
	"testing"

	"github.com/courseforge/courseforge/config"
)

func TestArtifactStore_SaveAndLoadStage(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SaveStage("M1-L1-S1", "plan", "fp-1", "the plan"); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got string
	if !store.LoadStage("M1-L1-S1", "plan", "fp-1", &got) {
		t.Fatalf("expected artifact to load")
	}
	if got != "the plan" {
		t.Fatalf("expected %q, got %q", "the plan", got)
	}
}

func TestArtifactStore_FingerprintMismatchInvalidates(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SaveStage("M1-L1-S1", "plan", "fp-old", "stale plan"); err != nil {
		t.Fatalf("save: %v", err)
	}
	var got string
	if store.LoadStage("M1-L1-S1", "plan", "fp-new", &got) {
		t.Fatalf("expected stale artifact to be ignored")
	}
}

func TestArtifactStore_MissingStage(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	var got string
	if store.LoadStage("M1-L1-S1", "plan", "fp", &got) {
		t.Fatalf("expected no artifact")
	}
}

func TestRowFingerprint_SensitiveToRowAndConfig(t *testing.T) {
	row := Row{ID: "M1-L1-S1", Module: 1, Lesson: 1, Step: 1, Title: "The Water Cycle"}
	models := config.StageModels{Generate: "gpt-4o-mini"}

	base := RowFingerprint(row, models, 3)
	if base != RowFingerprint(row, models, 3) {
		t.Fatalf("fingerprint not stable")
	}
	if base == RowFingerprint(row, models, 2) {
		t.Fatalf("fingerprint ignores fan-out")
	}
	if base == RowFingerprint(row, config.StageModels{Generate: "gpt-4o"}, 3) {
		t.Fatalf("fingerprint ignores model routing")
	}
	changed := row
	changed.Brief = "different brief"
	if base == RowFingerprint(changed, models, 3) {
		t.Fatalf("fingerprint ignores row content")
	}
}
