package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath string
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Storage.Postgres.URL
			if dsn == "" {
				dsn = getenv("DATABASE_URL", "")
			}
			if dsn == "" {
				return fmt.Errorf("postgres not configured (storage.postgres.url or DATABASE_URL)")
			}
			return store.Migrate(dir, dsn, direction, steps)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
