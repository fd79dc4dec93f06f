package workflow

import (
	"context"
	"log"

	"github.com/courseforge/courseforge/internal/rag"
)

// ContextBuilder turns a row into a retrieval-grounded context block for
// prompts. It is best-effort: retrieval problems degrade to an empty context
// and never fail the row.
type ContextBuilder struct {
	retriever *rag.Retriever
	injector  *rag.Injector
	budget    int
	logger    *log.Logger
}

// NewContextBuilder wires the retrieval engine into the workflow. budget is
// the token budget for injected context.
func NewContextBuilder(retriever *rag.Retriever, injector *rag.Injector, budget int, logger *log.Logger) *ContextBuilder {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONTEXT] ", log.LstdFlags)
	}
	return &ContextBuilder{retriever: retriever, injector: injector, budget: budget, logger: logger}
}

// Build retrieves reference chunks relevant to the row and assembles them
// within the token budget. Returns "" when retrieval is disabled, unavailable
// or finds nothing useful.
func (cb *ContextBuilder) Build(ctx context.Context, row Row) string {
	if cb == nil || cb.retriever == nil {
		return ""
	}
	query := row.Title + " " + row.Brief
	results, err := cb.retriever.Retrieve(ctx, query)
	if err != nil {
		cb.logger.Printf("warn: retrieval for row %s unavailable: %v", row.ID, err)
		return ""
	}
	return cb.injector.Build(results, cb.budget)
}
