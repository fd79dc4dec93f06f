package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/server"
	"github.com/courseforge/courseforge/internal/store"
	"github.com/courseforge/courseforge/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx := context.Background()
			var st *store.Store
			if cfg.Storage.Postgres.Enabled {
				st, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.URL)
				if err != nil {
					return err
				}
				defer st.Close()
			}

			var tel *telemetry.Telemetry
			if cfg.Telemetry.Enabled {
				tel = telemetry.New(newLogger("TELEMETRY"))
			}

			srv, err := server.New(cfg.Server, st, tel, newLogger("HTTP"))
			if err != nil {
				return err
			}
			return srv.Start()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}
