package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CheckpointManager records row/stage lifecycle events so interrupted runs can
// be inspected and resumed.
type CheckpointManager interface {
	StartRun(ctx context.Context, runID string) error
	SaveStageStart(ctx context.Context, runID, rowID, stage string) error
	SaveStageSuccess(ctx context.Context, runID, rowID, stage string) error
	SaveStageFailure(ctx context.Context, runID, rowID, stage string, cause error) error
}

// NoopCheckpointManager satisfies CheckpointManager without persisting
// anything.
type NoopCheckpointManager struct{}

func (NoopCheckpointManager) StartRun(context.Context, string) error { return nil }
func (NoopCheckpointManager) SaveStageStart(context.Context, string, string, string) error {
	return nil
}
func (NoopCheckpointManager) SaveStageSuccess(context.Context, string, string, string) error {
	return nil
}
func (NoopCheckpointManager) SaveStageFailure(context.Context, string, string, string, error) error {
	return nil
}

type checkpointEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	RowID     string    `json:"row_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Event     string    `json:"event"`
	Error     string    `json:"error,omitempty"`
}

// FileCheckpointManager appends events as JSON lines, one file per run.
type FileCheckpointManager struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileCheckpointManager stores checkpoint logs under dir.
func NewFileCheckpointManager(dir string) (*FileCheckpointManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointManager{dir: dir, files: make(map[string]*os.File)}, nil
}

func (m *FileCheckpointManager) StartRun(ctx context.Context, runID string) error {
	return m.append(checkpointEvent{RunID: runID, Event: "run_started"})
}

func (m *FileCheckpointManager) SaveStageStart(ctx context.Context, runID, rowID, stage string) error {
	return m.append(checkpointEvent{RunID: runID, RowID: rowID, Stage: stage, Event: "stage_started"})
}

func (m *FileCheckpointManager) SaveStageSuccess(ctx context.Context, runID, rowID, stage string) error {
	return m.append(checkpointEvent{RunID: runID, RowID: rowID, Stage: stage, Event: "stage_succeeded"})
}

func (m *FileCheckpointManager) SaveStageFailure(ctx context.Context, runID, rowID, stage string, cause error) error {
	ev := checkpointEvent{RunID: runID, RowID: rowID, Stage: stage, Event: "stage_failed"}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return m.append(ev)
}

func (m *FileCheckpointManager) append(ev checkpointEvent) error {
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[ev.RunID]
	if !ok {
		path := filepath.Join(m.dir, ev.RunID+".jsonl")
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open checkpoint log: %w", err)
		}
		m.files[ev.RunID] = f
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Close releases all open checkpoint logs.
func (m *FileCheckpointManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.files, id)
	}
	return firstErr
}
