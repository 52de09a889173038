// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/trigcam/internal/platform/httpx"
	platformnet "github.com/ManuGH/trigcam/internal/platform/net"
	"github.com/ManuGH/trigcam/internal/recorder"
)

var errTriggerRejected = errors.New("trigger rejected")

func newTriggerCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running daemon to record the current event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := requestTrigger(ctx, addr, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if !res.Accepted {
				return errTriggerRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "base URL of the running daemon")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func requestTrigger(ctx context.Context, addr string, timeout time.Duration) (recorder.Result, error) {
	var res recorder.Result
	base, err := daemonURL(addr)
	if err != nil {
		return res, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/trigger", nil)
	if err != nil {
		return res, fmt.Errorf("build request: %w", err)
	}
	resp, err := httpx.NewClient(timeout).Do(req)
	if err != nil {
		return res, fmt.Errorf("trigger request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("trigger request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode trigger response: %w", err)
	}
	return res, nil
}

// daemonURL validates a --addr flag and returns it without a trailing slash.
func daemonURL(addr string) (string, error) {
	u, ok := platformnet.ParseDirectHTTPURL(addr)
	if !ok {
		return "", fmt.Errorf("invalid daemon address %q: want http(s)://host[:port]", addr)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
