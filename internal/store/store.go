// Package store persists run history in Postgres. It is optional: the
// pipeline runs fully without it, and the ops API serves history from it when
// configured.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("store: not found")

// Store wraps the Postgres connection.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// Run is one pipeline invocation.
type Run struct {
	ID           string
	Phase        string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	SuccessCount int
	ErrorCount   int
}

// RowRecord is one row outcome within a run.
type RowRecord struct {
	RunID      string
	RowID      string
	Status     string
	Error      string
	OutputPath string
	DurationMS int64
	Detail     json.RawMessage
	CreatedAt  time.Time
}

// CreateRun registers a started run.
func (s *Store) CreateRun(ctx context.Context, id, phase string, startedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, phase, started_at) VALUES ($1,$2,$3)`,
		id, phase, startedAt)
	return err
}

// CompleteRun records the final counts for a run.
func (s *Store) CompleteRun(ctx context.Context, id string, completedAt time.Time, successCount, errorCount int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET completed_at=$2, success_count=$3, error_count=$4 WHERE id=$1`,
		id, completedAt, successCount, errorCount)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRowResult upserts a row outcome. Re-running a row within the same run
// replaces its previous record.
func (s *Store) SaveRowResult(ctx context.Context, rec RowRecord) error {
	if rec.Detail == nil {
		rec.Detail = json.RawMessage("{}")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO row_results (run_id, row_id, status, error, output_path, duration_ms, detail)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id, row_id) DO UPDATE SET
  status=EXCLUDED.status, error=EXCLUDED.error, output_path=EXCLUDED.output_path,
  duration_ms=EXCLUDED.duration_ms, detail=EXCLUDED.detail`,
		rec.RunID, rec.RowID, rec.Status, rec.Error, rec.OutputPath, rec.DurationMS, []byte(rec.Detail))
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, phase, started_at, completed_at, success_count, error_count
FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Phase, &r.StartedAt, &r.CompletedAt, &r.SuccessCount, &r.ErrorCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a single run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx, `
SELECT id, phase, started_at, completed_at, success_count, error_count
FROM runs WHERE id=$1`, id).Scan(&r.ID, &r.Phase, &r.StartedAt, &r.CompletedAt, &r.SuccessCount, &r.ErrorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRowResults returns the row outcomes of a run in row order.
func (s *Store) ListRowResults(ctx context.Context, runID string) ([]RowRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, row_id, status, error, output_path, duration_ms, detail, created_at
FROM row_results WHERE run_id=$1 ORDER BY row_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RowRecord
	for rows.Next() {
		var rec RowRecord
		var detail []byte
		if err := rows.Scan(&rec.RunID, &rec.RowID, &rec.Status, &rec.Error, &rec.OutputPath, &rec.DurationMS, &detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Detail = json.RawMessage(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateUser registers an ops API user with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

// GetUserByEmail returns a user's id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}
