package rag

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

// hashEmbedder derives a deterministic vector from term counts over a fixed
// vocabulary, so similarity ranking in tests is predictable.
type hashEmbedder struct {
	vocab []string
	calls int
}

func newHashEmbedder() *hashEmbedder {
	return &hashEmbedder{vocab: []string{
		"water", "evaporation", "condensation", "precipitation", "cloud",
		"photosynthesis", "sunlight", "energy", "soil", "plant",
	}}
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(h.vocab))
		lower := strings.ToLower(text)
		for j, term := range h.vocab {
			vec[j] = float32(strings.Count(lower, term))
		}
		out[i] = vec
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrEmbeddingUnavailable
}

const waterCorpus = `The water cycle begins with evaporation, where sunlight heats rivers lakes and oceans until water rises as vapor into the atmosphere above.
Condensation follows as the vapor cools high in the sky and gathers into cloud formations that drift across continents carrying their moisture.
Precipitation returns the water to the surface as rain or snow, soaking the soil and feeding the rivers that flow back toward the sea.
Plants draw water from the soil and release it again through their leaves, a quiet contribution that keeps the whole cycle turning.`

func buildTestIndex(t *testing.T, path string, emb Embedder) *Index {
	t.Helper()
	ix := NewIndex(path, 30, 5, wordCounter{}, emb, nil)
	if err := ix.Build(context.Background(), waterCorpus); err != nil {
		t.Fatalf("build index: %v", err)
	}
	return ix
}

func TestIndex_BuildIsIdempotent(t *testing.T) {
	emb := newHashEmbedder()
	ix := buildTestIndex(t, "", emb)
	first := emb.calls
	if first == 0 {
		t.Fatalf("expected embedding calls during build")
	}
	before := ix.Chunks()

	if err := ix.Build(context.Background(), waterCorpus); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if emb.calls != first {
		t.Fatalf("rebuild with unchanged source re-embedded: %d -> %d calls", first, emb.calls)
	}
	after := ix.Chunks()
	if len(before) != len(after) {
		t.Fatalf("chunk count changed on rebuild: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("chunk %d changed on rebuild", i)
		}
	}
}

func TestIndex_PersistedIndexSkipsReembedding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newHashEmbedder()
	buildTestIndex(t, path, emb)
	built := emb.calls

	fresh := NewIndex(path, 30, 5, wordCounter{}, emb, nil)
	if err := fresh.Build(context.Background(), waterCorpus); err != nil {
		t.Fatalf("build from persisted: %v", err)
	}
	if emb.calls != built {
		t.Fatalf("expected persisted index to skip embedding, calls %d -> %d", built, emb.calls)
	}
	if !fresh.HasVectors() {
		t.Fatalf("expected vectors restored from disk")
	}
}

func TestIndex_ParameterChangeTriggersRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newHashEmbedder()
	buildTestIndex(t, path, emb)
	built := emb.calls

	changed := NewIndex(path, 20, 5, wordCounter{}, emb, nil)
	if err := changed.Build(context.Background(), waterCorpus); err != nil {
		t.Fatalf("rebuild with new chunk size: %v", err)
	}
	if emb.calls == built {
		t.Fatalf("expected chunk size change to force re-embedding")
	}
}

func TestIndex_EmbeddingFailureStillBuildsLexical(t *testing.T) {
	ix := NewIndex("", 30, 5, wordCounter{}, failingEmbedder{}, nil)
	if err := ix.Build(context.Background(), waterCorpus); err != nil {
		t.Fatalf("expected build to succeed without embeddings: %v", err)
	}
	if !ix.Ready() {
		t.Fatalf("expected index ready")
	}
	if ix.HasVectors() {
		t.Fatalf("expected no vectors after embedding failure")
	}
}

func TestFingerprint_SensitiveToContentAndParams(t *testing.T) {
	a := Fingerprint("water cycle", 100, 10)
	if a != Fingerprint("water cycle", 100, 10) {
		t.Fatalf("fingerprint not stable")
	}
	if a == Fingerprint("water cycle!", 100, 10) {
		t.Fatalf("fingerprint ignores content")
	}
	if a == Fingerprint("water cycle", 200, 10) {
		t.Fatalf("fingerprint ignores chunk size")
	}
	if a == Fingerprint("water cycle", 100, 20) {
		t.Fatalf("fingerprint ignores overlap")
	}
}

func TestDedupeChunks_DropsLongDuplicatesOnly(t *testing.T) {
	long := strings.Repeat("repeated paragraph about watersheds ", 3)
	chunks := []Chunk{
		{Index: 0, Content: long},
		{Index: 1, Content: "short"},
		{Index: 2, Content: long},
		{Index: 3, Content: "short"},
	}
	out := dedupeChunks(chunks)
	if len(out) != 3 {
		t.Fatalf("expected 3 chunks after dedupe, got %d", len(out))
	}
	if out[0].Index != 0 || out[1].Index != 1 || out[2].Index != 3 {
		t.Fatalf("unexpected surviving chunks: %+v", out)
	}
}
