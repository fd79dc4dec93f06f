package rag

import (
	"errors"

	"github.com/courseforge/courseforge/internal/llm"
)

var (
	// ErrEmbeddingUnavailable signals that no embedding capability is
	// configured or the provider rejected the request. It is the provider
	// package's sentinel so failures match on both sides of the Embedder
	// interface; retrieval degrades to keyword search when it sees this.
	ErrEmbeddingUnavailable = llm.ErrEmbeddingUnavailable

	// ErrRetrievalUnavailable signals that the index cannot serve queries at
	// all (not built, no chunks).
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)
