package rag

import (
	"strings"
	"unicode"
)

// Chunk is a contiguous slice of a source document. Index is ascending in
// document order; Start/End are byte offsets into the source.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Tokens  int    `json:"tokens"`
}

// TokenEstimator reports how many tokens a string occupies. Satisfied by
// tokens.Counter.
type TokenEstimator interface {
	Count(text string) int
}

// Chunker splits documents into overlapping, token-bounded chunks. Chunks are
// exact substrings of the source so the original text can be reconstructed
// from them.
type Chunker struct {
	size    int
	overlap int
	counter TokenEstimator
}

// NewChunker builds a Chunker. size is the target token count per chunk,
// overlap the token count shared between neighbours. Overlap is capped below
// size so chunking always advances.
func NewChunker(size, overlap int, counter TokenEstimator) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap, counter: counter}
}

// Split chunks text. Word boundaries are respected; a single word longer than
// the chunk budget becomes its own chunk rather than being cut.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	bounds := wordBounds(text)
	if len(bounds) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0 // index into bounds
	for start < len(bounds) {
		end := start
		for end < len(bounds) {
			candidate := text[bounds[start].start:bounds[end].end]
			if c.counter.Count(candidate) > c.size && end > start {
				break
			}
			end++
		}
		content := text[bounds[start].start:bounds[end-1].end]
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: content,
			Start:   bounds[start].start,
			End:     bounds[end-1].end,
			Tokens:  c.counter.Count(content),
		})
		if end >= len(bounds) {
			break
		}
		start = c.backOff(text, bounds, start, end)
	}
	return chunks
}

// backOff walks back from the chunk end until roughly overlap tokens are
// retained, without retreating past the chunk start.
func (c *Chunker) backOff(text string, bounds []span, start, end int) int {
	if c.overlap == 0 {
		return end
	}
	next := end
	for next > start+1 {
		tail := text[bounds[next-1].start:bounds[end-1].end]
		if c.counter.Count(tail) >= c.overlap {
			return next - 1
		}
		next--
	}
	return next
}

type span struct{ start, end int }

// wordBounds returns byte spans that tile the whole text: each span is a run
// of non-space characters together with the whitespace that follows it, so
// adjacent spans are contiguous.
func wordBounds(text string) []span {
	var out []span
	runes := []rune(text)
	pos := 0
	i := 0
	for i < len(runes) {
		wordStart := pos
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			pos += len(string(runes[i]))
			i++
		}
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			pos += len(string(runes[i]))
			i++
		}
		if pos > wordStart {
			out = append(out, span{start: wordStart, end: pos})
		}
	}
	return out
}

// NormalizeChunk lowercases and collapses whitespace; used for duplicate
// detection when indexing.
func NormalizeChunk(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
