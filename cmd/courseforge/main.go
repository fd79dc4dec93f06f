package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/cache"
	"github.com/courseforge/courseforge/internal/llm"
	"github.com/courseforge/courseforge/internal/rag"
	"github.com/courseforge/courseforge/internal/tokens"
	"github.com/courseforge/courseforge/internal/workflow"
)

func main() {
	root := &cobra.Command{
		Use:   "courseforge",
		Short: "Batch pipeline for LLM-generated educational content",
	}
	root.AddCommand(runCMD(), indexCMD(), cacheCMD(), serveCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), "["+prefix+"] ", log.LstdFlags)
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// buildProvider resolves the LLM client from config, with the API key falling
// back to OPENAI_API_KEY.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key not configured (llm.api_key or OPENAI_API_KEY)")
	}
	return llm.NewOpenAIClient(apiKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel, cfg.LLM.Timeout), nil
}

// buildCache assembles the two-tier response cache, or nil when disabled.
func buildCache(ctx context.Context, cfg *config.Config, logger *log.Logger) (*cache.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	var backend cache.Backend
	switch cfg.Cache.Backend {
	case "redis":
		rb, err := cache.NewRedisBackend(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password,
			cfg.Cache.Redis.DB, "courseforge:cache:", cfg.Cache.Redis.TTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache backend: %w", err)
		}
		backend = rb
	default:
		db, err := cache.NewDiskBackend(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("disk cache backend: %w", err)
		}
		backend = db
	}
	return cache.New(backend, cfg.Cache.MemoryEntries, logger), nil
}

// buildIndex loads the reference corpus and builds (or restores) the chunk
// index.
func buildIndex(ctx context.Context, cfg *config.Config, counter *tokens.Counter, embedder rag.Embedder, logger *log.Logger) (*rag.Index, error) {
	corpus, err := loadCorpus(cfg, logger)
	if err != nil {
		return nil, err
	}
	ix := rag.NewIndex(cfg.RAG.IndexPath, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, counter, embedder, logger)
	if err := ix.Build(ctx, corpus); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return ix, nil
}

// buildContextBuilder wires the retrieval engine, or returns nil when
// retrieval is disabled or the corpus cannot be indexed.
func buildContextBuilder(ctx context.Context, cfg *config.Config, counter *tokens.Counter, embedder rag.Embedder, logger *log.Logger) *workflow.ContextBuilder {
	if !cfg.RAG.Enabled {
		return nil
	}
	ix, err := buildIndex(ctx, cfg, counter, embedder, logger)
	if err != nil {
		logger.Printf("warn: retrieval disabled: %v", err)
		return nil
	}
	retriever := rag.NewRetriever(ix, embedder, cfg.RAG.TopK, logger)
	injector := rag.NewInjector(counter)
	return workflow.NewContextBuilder(retriever, injector, cfg.RAG.ContextTokenBudget, logger)
}
