package telemetry

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/courseforge/courseforge/internal/cache"
	"github.com/courseforge/courseforge/internal/workflow"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()
	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestTelemetry_RecordsRowsAndStages(t *testing.T) {
	tel := New(nil)
	tel.RecordRow(workflow.StatusWorkflowComplete, 3*time.Second)
	tel.RecordRow(workflow.StatusPlanFailed, time.Second)
	tel.RecordStage("generate", 2*time.Second, nil)
	tel.RecordStage("compare", time.Second, fmt.Errorf("boom"))
	tel.ObserveCache(cache.Stats{MemoryHits: 4, BackendHits: 2, Misses: 3, CorruptDropped: 1})

	body := scrape(t, tel)
	for _, want := range []string{
		`courseforge_rows_total{status="WORKFLOW_COMPLETE"} 1`,
		`courseforge_rows_total{status="PLAN_FAILED"} 1`,
		`courseforge_stages_total{outcome="success",stage="generate"} 1`,
		`courseforge_stages_total{outcome="error",stage="compare"} 1`,
		`courseforge_cache_lookups{outcome="memory_hit"} 4`,
		`courseforge_cache_lookups{outcome="backend_hit"} 2`,
		`courseforge_cache_lookups{outcome="miss"} 3`,
		`courseforge_cache_lookups{outcome="corrupt_dropped"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestTelemetry_EmptyRegistryScrapes(t *testing.T) {
	tel := New(nil)
	body := scrape(t, tel)
	if !strings.Contains(body, "courseforge_rows_total") && !strings.Contains(body, "courseforge_row_duration_seconds") {
		t.Fatalf("expected declared metric families, got:\n%s", body)
	}
}
