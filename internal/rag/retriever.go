package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
)

// maxQueryLen bounds query preprocessing; longer queries are truncated before
// embedding or keyword matching.
const maxQueryLen = 1000

// Result pairs a chunk with its relevance score.
type Result struct {
	Chunk Chunk
	Score float64
}

// Retriever answers queries against an Index: vector similarity when
// embeddings are available, keyword overlap otherwise. The keyword path never
// returns an error; its worst case is an empty result set.
type Retriever struct {
	index    *Index
	embedder Embedder
	topK     int
	logger   *log.Logger
}

// NewRetriever builds a Retriever. topK <= 0 defaults to 5.
func NewRetriever(index *Index, embedder Embedder, topK int, logger *log.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{index: index, embedder: embedder, topK: topK, logger: logger}
}

// Retrieve returns the topK most relevant chunks for query. It errors only
// when the index cannot serve queries at all.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	if r.index == nil || !r.index.Ready() {
		return nil, fmt.Errorf("retrieve: %w", ErrRetrievalUnavailable)
	}
	q := PreprocessQuery(query)
	if q == "" {
		return nil, nil
	}

	if r.embedder != nil && r.index.HasVectors() {
		vecs, err := r.embedder.Embed(ctx, []string{q})
		if err == nil && len(vecs) == 1 {
			return r.index.vectorSearch(vecs[0], r.topK), nil
		}
		r.logger.Printf("warn: query embedding failed, using keyword fallback: %v", err)
	}
	return r.keywordFallback(q), nil
}

// keywordFallback serves queries without embeddings. It tries the lexical
// index first and degrades to term-frequency scoring when that fails.
func (r *Retriever) keywordFallback(query string) []Result {
	results, err := r.index.lexicalSearch(query, r.topK)
	if err == nil {
		return results
	}
	r.logger.Printf("warn: lexical search failed, using term overlap: %v", err)

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}
	var out []Result
	for _, c := range r.index.Chunks() {
		score := overlapScore(terms, c.Content)
		if score > 0 {
			out = append(out, Result{Chunk: c, Score: score})
		}
	}
	sortResults(out)
	if len(out) > r.topK {
		out = out[:r.topK]
	}
	return out
}

// PreprocessQuery truncates overlong queries and strips markdown syntax
// characters that pollute lexical matching.
func PreprocessQuery(query string) string {
	q := strings.TrimSpace(query)
	if len(q) > maxQueryLen {
		q = q[:maxQueryLen]
	}
	q = strings.Map(func(r rune) rune {
		switch r {
		case '#', '*', '`', '_', '>', '[', ']', '(', ')', '|':
			return ' '
		}
		return r
	}, q)
	return strings.Join(strings.Fields(q), " ")
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "which": {}, "will": {},
	"with": {},
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if w == "" {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func overlapScore(terms []string, content string) float64 {
	lower := strings.ToLower(content)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[strings.Trim(w, ".,;:!?\"'")]++
	}
	var score float64
	for _, t := range terms {
		score += float64(freq[t])
	}
	return score / float64(len(words))
}

// sortResults orders by descending score, breaking ties by ascending chunk
// index so results are deterministic.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Index < results[j].Chunk.Index
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
