package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/courseforge/courseforge/internal/store"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate source file")
	}
	return "file://" + filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestStore_RunHistoryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("courseforge"),
		tcPostgres.WithUsername("courseforge"),
		tcPostgres.WithPassword("courseforge"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://courseforge:courseforge@%s:%s/courseforge?sslmode=disable", host, port.Port())

	if err := store.Migrate(migrationsDir(t), dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	runID := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.CreateRun(ctx, runID, "finalize", startedAt); err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec := store.RowRecord{
		RunID:      runID,
		RowID:      "M1-L1-S1",
		Status:     "WORKFLOW_COMPLETE",
		OutputPath: "output/content/M1-L1-S1.md",
		DurationMS: 4200,
		Detail:     json.RawMessage(`{"generations":3}`),
	}
	if err := st.SaveRowResult(ctx, rec); err != nil {
		t.Fatalf("save row result: %v", err)
	}
	// Upsert replaces the earlier record.
	rec.Status = "WORKFLOW_COMPLETE"
	rec.DurationMS = 4300
	if err := st.SaveRowResult(ctx, rec); err != nil {
		t.Fatalf("upsert row result: %v", err)
	}

	if err := st.CompleteRun(ctx, runID, time.Now().UTC(), 1, 0); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Phase != "finalize" || run.SuccessCount != 1 || !run.CompletedAt.Valid {
		t.Fatalf("unexpected run: %+v", run)
	}

	results, err := st.ListRowResults(ctx, runID)
	if err != nil {
		t.Fatalf("list row results: %v", err)
	}
	if len(results) != 1 || results[0].DurationMS != 4300 {
		t.Fatalf("expected single upserted record, got %+v", results)
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if _, err := st.GetRun(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.CompleteRun(ctx, uuid.NewString(), time.Now(), 0, 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}

	if err := st.CreateUser(ctx, "ops@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, hash, err := st.GetUserByEmail(ctx, "ops@example.com")
	if err != nil || id == "" || hash != "hash" {
		t.Fatalf("get user: id=%q hash=%q err=%v", id, hash, err)
	}
}
