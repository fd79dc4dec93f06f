package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("expected system+user messages, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "generated lesson"}},
			},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL, "", time.Second)
	got, err := client.Generate(context.Background(), Request{
		Model:  "gpt-4o-mini",
		System: "You write lessons.",
		Prompt: "Write about evaporation.",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "generated lesson" {
		t.Fatalf("expected %q, got %q", "generated lesson", got)
	}
}

func TestOpenAIClient_GenerateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient("k", srv.URL, "", time.Second)
	if _, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"}); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}

func TestOpenAIClient_EmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		// Respond out of order to exercise index-based placement.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("k", srv.URL, "text-embedding-3-small", time.Second)
	vecs, err := client.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
}

func TestOpenAIClient_EmbedWithoutModel(t *testing.T) {
	client := NewOpenAIClient("k", "", "", time.Second)
	_, err := client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestOpenAIClient_EmbedFailureWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"embeddings down"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOpenAIClient("k", srv.URL, "text-embedding-3-small", time.Second)
	_, err := client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}
