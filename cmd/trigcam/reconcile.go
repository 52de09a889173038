// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/trigcam/internal/daemon"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var daysBack int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass against the configured roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days-back") {
				daysBack = cfg.Sync.DaysBack
			}
			if daysBack < 0 {
				return fmt.Errorf("--days-back must be >= 0, got %d", daysBack)
			}

			engine := daemon.NewSyncEngine(cfg)
			report, err := engine.Reconcile(cmd.Context(), daysBack)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&daysBack, "days-back", 0, "days before today to scan (default sync.daysBack)")
	return cmd
}
