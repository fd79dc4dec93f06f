package rag

import (
	"strings"
	"testing"
)

func TestInjector_RespectsBudget(t *testing.T) {
	in := NewInjector(wordCounter{})
	results := []Result{
		{Chunk: Chunk{Index: 0, Content: repeatWords("alpha", 10)}},
		{Chunk: Chunk{Index: 1, Content: repeatWords("beta", 10)}},
		{Chunk: Chunk{Index: 2, Content: repeatWords("gamma", 10)}},
	}
	got := in.Build(results, 25)
	if used := len(strings.Fields(got)); used > 25 {
		t.Fatalf("context exceeds budget: %d tokens", used)
	}
	if !strings.Contains(got, "alphaa") || !strings.Contains(got, "betaa") {
		t.Fatalf("expected first two chunks included")
	}
	if strings.Contains(got, "gammaa") {
		t.Fatalf("expected third chunk excluded by budget")
	}
}

func TestInjector_SkipsOversizedChunkButKeepsLaterSmallerOne(t *testing.T) {
	in := NewInjector(wordCounter{})
	results := []Result{
		{Chunk: Chunk{Index: 0, Content: repeatWords("big", 50)}},
		{Chunk: Chunk{Index: 1, Content: "small chunk fits"}},
	}
	got := in.Build(results, 10)
	if strings.Contains(got, "biga") {
		t.Fatalf("oversized chunk must be skipped whole, got: %q", got)
	}
	if got != "small chunk fits" {
		t.Fatalf("expected later smaller chunk included, got: %q", got)
	}
}

func TestInjector_EmptyWhenNothingFits(t *testing.T) {
	in := NewInjector(wordCounter{})
	results := []Result{
		{Chunk: Chunk{Index: 0, Content: repeatWords("huge", 30)}},
	}
	if got := in.Build(results, 5); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
	if got := in.Build(nil, 100); got != "" {
		t.Fatalf("expected empty context for no results, got %q", got)
	}
	if got := in.Build(results, 0); got != "" {
		t.Fatalf("expected empty context for zero budget, got %q", got)
	}
}

func TestInjector_PreservesResultOrder(t *testing.T) {
	in := NewInjector(wordCounter{})
	results := []Result{
		{Chunk: Chunk{Index: 2, Content: "second ranked"}},
		{Chunk: Chunk{Index: 0, Content: "first ranked"}},
	}
	got := in.Build(results, 100)
	if strings.Index(got, "second ranked") > strings.Index(got, "first ranked") {
		t.Fatalf("expected relevance order preserved, got: %q", got)
	}
}
