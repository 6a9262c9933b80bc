package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"librarydesk/internal/app"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					log.Error("failed to flush traces", sl.Err(err))
				}
			}()

			log.Info("starting librarydesk", slog.String("storage", cfg.Storage.Driver))
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			if err := a.Run(ctx); err != nil {
				return err
			}
			log.Info("librarydesk stopped")
			return nil
		},
	}
}
