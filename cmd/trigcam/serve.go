// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/daemon"
	"github.com/ManuGH/trigcam/internal/log"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(_ *cobra.Command, opts *rootOptions) error {
	loader, cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := log.WithComponent("daemon")

	source := "env"
	if loader.Path() != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldSource, source).
		Str(log.FieldPath, loader.Path()).
		Msg("configuration loaded")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	holder := config.NewConfigHolder(cfg, loader)
	if err := daemon.Serve(ctx, cfg, holder); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return err
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return nil
}
