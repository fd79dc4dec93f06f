package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	cwd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(cwd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Workflow.FanOut != 3 {
		t.Fatalf("expected default fan_out 3, got %d", cfg.Workflow.FanOut)
	}
	if cfg.Workflow.Phase != PhaseFinalize {
		t.Fatalf("expected default phase finalize, got %q", cfg.Workflow.Phase)
	}
	if !cfg.RAG.Enabled || cfg.RAG.TopK != 5 {
		t.Fatalf("unexpected rag defaults: %+v", cfg.RAG)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
workflow:
  phase: compare
  fan_out: 2
  output_dir: out
rag:
  enabled: false
cache:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.Phase != PhaseCompare || cfg.Workflow.FanOut != 2 {
		t.Fatalf("file values not applied: %+v", cfg.Workflow)
	}
	if cfg.RAG.Enabled {
		t.Fatalf("expected rag disabled")
	}
	// Untouched keys keep defaults.
	if cfg.Workflow.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Workflow.Concurrency)
	}
}

func TestLoadConfig_RejectsInvalidPhase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("workflow:\n  phase: publish\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}

func TestPhaseOrder(t *testing.T) {
	if PhaseOrder(PhaseGenerate) != 0 || PhaseOrder(PhaseFinalize) != 3 {
		t.Fatalf("unexpected phase ordering")
	}
	if PhaseOrder("bogus") != -1 {
		t.Fatalf("expected -1 for unknown phase")
	}
}

func TestWorkflowConfig_Validate(t *testing.T) {
	w := WorkflowConfig{Phase: PhaseReview, FanOut: 3, Concurrency: 2, OutputDir: "out"}
	if err := w.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	w.FanOut = 0
	if err := w.Validate(); err == nil {
		t.Fatalf("expected fan_out error")
	}
}

func TestRAGConfig_ValidateOverlapBounds(t *testing.T) {
	r := RAGConfig{Enabled: true, ReferenceDir: "ref", ChunkSize: 100, ChunkOverlap: 100, TopK: 5, ContextTokenBudget: 500}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected overlap >= chunk_size to be rejected")
	}
	r.ChunkOverlap = 20
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid rag config, got %v", err)
	}
}

func TestStageModels_ForStageFallsBack(t *testing.T) {
	m := StageModels{Generate: "gpt-4o-mini", Compare: "gpt-4o"}
	if got := m.ForStage("compare"); got != "gpt-4o" {
		t.Fatalf("expected compare routing, got %q", got)
	}
	if got := m.ForStage("review"); got != "gpt-4o-mini" {
		t.Fatalf("expected fallback to generate model, got %q", got)
	}
}
