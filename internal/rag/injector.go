package rag

import "strings"

// chunkSeparator joins injected chunks. It is charged against the token
// budget along with each chunk.
const chunkSeparator = "\n\n"

// Injector assembles retrieved chunks into a prompt context block bounded by
// a token budget.
type Injector struct {
	counter TokenEstimator
}

// NewInjector builds an Injector using counter for budget accounting.
func NewInjector(counter TokenEstimator) *Injector {
	return &Injector{counter: counter}
}

// Build concatenates result chunks in order until the budget is exhausted.
// Chunks are atomic: one that does not fit entirely is skipped, and later
// smaller chunks may still be included. Returns "" when nothing fits.
func (in *Injector) Build(results []Result, budget int) string {
	if budget <= 0 || len(results) == 0 {
		return ""
	}
	sepCost := in.counter.Count(chunkSeparator)
	var parts []string
	used := 0
	for _, r := range results {
		content := strings.TrimSpace(r.Chunk.Content)
		if content == "" {
			continue
		}
		cost := in.counter.Count(content)
		if len(parts) > 0 {
			cost += sepCost
		}
		if used+cost > budget {
			continue
		}
		parts = append(parts, content)
		used += cost
	}
	return strings.Join(parts, chunkSeparator)
}
