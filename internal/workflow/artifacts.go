package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/courseforge/courseforge/config"
)

// ArtifactStore persists per-row interim results so interrupted runs resume
// where they stopped. Artifacts are keyed by a row fingerprint; a changed row
// or configuration invalidates prior artifacts.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore roots artifact storage at dir.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, errors.New("artifact dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "rows"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the artifact root.
func (a *ArtifactStore) Dir() string { return a.dir }

type stageArtifact struct {
	Fingerprint string          `json:"fingerprint"`
	Stage       string          `json:"stage"`
	SavedAt     time.Time       `json:"saved_at"`
	Data        json.RawMessage `json:"data"`
}

func (a *ArtifactStore) stagePath(rowID, stage string) string {
	return filepath.Join(a.dir, "rows", rowID, stage+".json")
}

// SaveStage persists a stage result for a row.
func (a *ArtifactStore) SaveStage(rowID, stage, fingerprint string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s artifact: %w", stage, err)
	}
	artifact := stageArtifact{
		Fingerprint: fingerprint,
		Stage:       stage,
		SavedAt:     time.Now().UTC(),
		Data:        raw,
	}
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	path := a.stagePath(rowID, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadStage restores a stage result when one exists for the same fingerprint.
// Missing, stale or unreadable artifacts report ok=false without error.
func (a *ArtifactStore) LoadStage(rowID, stage, fingerprint string, out interface{}) bool {
	data, err := os.ReadFile(a.stagePath(rowID, stage))
	if err != nil {
		return false
	}
	var artifact stageArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return false
	}
	if artifact.Fingerprint != fingerprint {
		return false
	}
	return json.Unmarshal(artifact.Data, out) == nil
}

// SaveResult writes the complete row result.
func (a *ArtifactStore) SaveResult(result RowResult) error {
	return a.SaveStage(result.Row.ID, "result", "", result)
}

// WriteFinal writes the finished content as markdown and returns its path.
func (a *ArtifactStore) WriteFinal(row Row, content string) (string, error) {
	dir := filepath.Join(a.dir, "content")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, row.ID+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RowFingerprint versions a row's artifacts: any change to the row itself, the
// model routing or the fan-out invalidates previous interim results.
func RowFingerprint(row Row, models config.StageModels, fanOut int) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(row)
	_ = enc.Encode(models)
	fmt.Fprintf(h, "fanout:%d", fanOut)
	return hex.EncodeToString(h.Sum(nil))
}
