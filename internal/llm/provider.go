// Package llm abstracts chat-completion and embedding providers behind a
// small interface so workflow stages and the retrieval engine stay
// provider-agnostic.
package llm

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable marks embedding failures: no model configured or the
// provider rejected the request. Retrieval degrades to keyword search when it
// sees this.
var ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")

// Request describes a single completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is implemented by LLM backends.
type Provider interface {
	// Generate returns the completion text for a request.
	Generate(ctx context.Context, req Request) (string, error)
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
