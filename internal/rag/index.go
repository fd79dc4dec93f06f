package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

// minDedupeLen is the minimum normalized length at which duplicate chunks are
// dropped from the index. Short chunks (headings, boilerplate) are kept even
// when repeated.
const minDedupeLen = 50

// Embedder produces vector embeddings for texts. Injected so the index never
// depends on a concrete provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index holds the chunked reference corpus: chunk metadata, optional vectors
// and an in-memory lexical index. It persists itself to a JSON file keyed by a
// content fingerprint so unchanged corpora are not re-embedded.
type Index struct {
	path     string
	chunker  *Chunker
	embedder Embedder
	logger   *log.Logger

	chunkSize int
	overlap   int

	mu          sync.RWMutex
	fingerprint string
	chunks      []Chunk
	vectors     [][]float32
	lexical     bleve.Index
}

type storedChunk struct {
	Chunk
	Vector []float32 `json:"vector,omitempty"`
}

type indexFile struct {
	Fingerprint string        `json:"fingerprint"`
	ChunkSize   int           `json:"chunk_size"`
	Overlap     int           `json:"overlap"`
	BuiltAt     time.Time     `json:"built_at"`
	Chunks      []storedChunk `json:"chunks"`
}

type lexicalDoc struct {
	Content string `json:"content"`
}

// NewIndex builds an Index persisting to path (empty path disables
// persistence).
func NewIndex(path string, chunkSize, overlap int, counter TokenEstimator, embedder Embedder, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	return &Index{
		path:      path,
		chunker:   NewChunker(chunkSize, overlap, counter),
		embedder:  embedder,
		logger:    logger,
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Fingerprint versions an index build: same source and chunk parameters, same
// fingerprint.
func Fingerprint(source string, chunkSize, overlap int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:", chunkSize, overlap)
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Build (re)indexes source. It is idempotent: when the fingerprint matches the
// in-memory or persisted state the existing chunks and vectors are reused and
// no embedding calls are made. Embedding failure is not fatal; the index then
// serves lexical search only.
func (ix *Index) Build(ctx context.Context, source string) error {
	fp := Fingerprint(source, ix.chunkSize, ix.overlap)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.fingerprint == fp && ix.lexical != nil {
		return nil
	}
	if ix.loadLocked(fp) {
		ix.logger.Printf("index restored from %s (%d chunks, reembedding skipped)", ix.path, len(ix.chunks))
		return nil
	}

	chunks := ix.chunker.Split(source)
	chunks = dedupeChunks(chunks)
	if len(chunks) == 0 {
		return fmt.Errorf("source produced no chunks")
	}

	var vectors [][]float32
	if ix.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			ix.logger.Printf("warn: embedding corpus failed, lexical search only: %v", err)
		case len(vecs) != len(chunks):
			ix.logger.Printf("warn: embedder returned %d vectors for %d chunks, lexical search only", len(vecs), len(chunks))
		default:
			vectors = vecs
		}
	}

	lexical, err := buildLexical(chunks)
	if err != nil {
		return fmt.Errorf("build lexical index: %w", err)
	}

	ix.fingerprint = fp
	ix.chunks = chunks
	ix.vectors = vectors
	if ix.lexical != nil {
		_ = ix.lexical.Close()
	}
	ix.lexical = lexical

	if err := ix.persistLocked(); err != nil {
		ix.logger.Printf("warn: persist index: %v", err)
	}
	ix.logger.Printf("indexed %d chunks (vectors: %v)", len(chunks), vectors != nil)
	return nil
}

// Ready reports whether the index can serve queries.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks) > 0 && ix.lexical != nil
}

// HasVectors reports whether embeddings were built for the current corpus.
func (ix *Index) HasVectors() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors) == len(ix.chunks) && len(ix.chunks) > 0
}

// Chunks returns a copy of the chunk set.
func (ix *Index) Chunks() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// vectorSearch ranks chunks by cosine similarity to query, descending, ties
// broken by ascending chunk index.
func (ix *Index) vectorSearch(query []float32, k int) []Result {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.vectors) != len(ix.chunks) {
		return nil
	}
	results := make([]Result, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		results = append(results, Result{Chunk: c, Score: cosine(query, ix.vectors[i])})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// lexicalSearch runs a bleve query over chunk contents.
func (ix *Index) lexicalSearch(query string, k int) ([]Result, error) {
	ix.mu.RLock()
	lexical := ix.lexical
	chunks := ix.chunks
	ix.mu.RUnlock()
	if lexical == nil {
		return nil, ErrRetrievalUnavailable
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := lexical.Search(req)
	if err != nil {
		return nil, err
	}
	// Doc IDs carry original chunk indexes, which are not slice positions
	// once dedupe has removed duplicates.
	byIndex := make(map[int]int, len(chunks))
	for pos, c := range chunks {
		byIndex[c.Index] = pos
	}
	var out []Result
	for _, hit := range res.Hits {
		var idx int
		if _, err := fmt.Sscanf(hit.ID, "%d", &idx); err != nil {
			continue
		}
		pos, ok := byIndex[idx]
		if !ok {
			continue
		}
		out = append(out, Result{Chunk: chunks[pos], Score: hit.Score})
	}
	sortResults(out)
	return out, nil
}

func buildLexical(chunks []Chunk) (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if err := idx.Index(fmt.Sprintf("%d", c.Index), lexicalDoc{Content: c.Content}); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return idx, nil
}

func dedupeChunks(chunks []Chunk) []Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		norm := NormalizeChunk(c.Content)
		if len(norm) >= minDedupeLen {
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}

// loadLocked restores a persisted index when its fingerprint matches fp.
func (ix *Index) loadLocked(fp string) bool {
	if ix.path == "" {
		return false
	}
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		ix.logger.Printf("warn: read persisted index: %v", err)
		return false
	}
	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		ix.logger.Printf("warn: persisted index corrupt, rebuilding: %v", err)
		return false
	}
	if file.Fingerprint != fp || file.ChunkSize != ix.chunkSize || file.Overlap != ix.overlap {
		return false
	}

	chunks := make([]Chunk, len(file.Chunks))
	vectors := make([][]float32, 0, len(file.Chunks))
	for i, sc := range file.Chunks {
		chunks[i] = sc.Chunk
		if sc.Vector != nil {
			vectors = append(vectors, sc.Vector)
		}
	}
	if len(vectors) != len(chunks) {
		vectors = nil
	}
	lexical, err := buildLexical(chunks)
	if err != nil {
		ix.logger.Printf("warn: rebuild lexical index from persisted chunks: %v", err)
		return false
	}

	ix.fingerprint = fp
	ix.chunks = chunks
	ix.vectors = vectors
	if ix.lexical != nil {
		_ = ix.lexical.Close()
	}
	ix.lexical = lexical
	return true
}

func (ix *Index) persistLocked() error {
	if ix.path == "" {
		return nil
	}
	file := indexFile{
		Fingerprint: ix.fingerprint,
		ChunkSize:   ix.chunkSize,
		Overlap:     ix.overlap,
		BuiltAt:     time.Now().UTC(),
		Chunks:      make([]storedChunk, len(ix.chunks)),
	}
	for i, c := range ix.chunks {
		sc := storedChunk{Chunk: c}
		if len(ix.vectors) == len(ix.chunks) {
			sc.Vector = ix.vectors[i]
		}
		file.Chunks[i] = sc
	}
	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	tmp := ix.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ix.path)
}
