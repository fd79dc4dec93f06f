package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/ingest"
	"github.com/courseforge/courseforge/internal/tokens"
)

// loadCorpus reads every reference document and joins them into one corpus
// string for chunking.
func loadCorpus(cfg *config.Config, logger *log.Logger) (string, error) {
	loader := ingest.NewLoader(logger)
	docs, err := loader.LoadDir(cfg.RAG.ReferenceDir)
	if err != nil {
		return "", fmt.Errorf("load reference dir: %w", err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("no reference documents in %s", cfg.RAG.ReferenceDir)
	}
	return ingest.Corpus(docs), nil
}

func indexCMD() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the reference chunk index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger("INDEX")

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			counter := tokens.NewCounter(cfg.RAG.TokenCalibration, newLogger("TOKENS"))

			ix, err := buildIndex(context.Background(), cfg, counter, provider, logger)
			if err != nil {
				return err
			}
			logger.Printf("index ready: %d chunks, vectors=%v, path=%s",
				len(ix.Chunks()), ix.HasVectors(), cfg.RAG.IndexPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}
