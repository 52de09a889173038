// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command trigcam runs the event-triggered pre/post recorder and talks to a
// running instance.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "trigcam",
		Short:         "Event-triggered pre/post video recorder",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c",
		strings.TrimSpace(os.Getenv("TRIGCAM_CONFIG")), "path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newTriggerCmd(),
		newReconcileCmd(opts),
		newConfigCmd(opts),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the effective configuration and configures the logger
// from it.
func loadConfig(opts *rootOptions) (*config.Loader, config.AppConfig, error) {
	loader := config.NewLoader(opts.configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, fmt.Errorf("load configuration: %w", err)
	}
	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: cfg.Version,
	})
	return loader, cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
