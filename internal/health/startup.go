// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts.
// An unreachable remote store is only a warning.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks").Msg("running pre-flight startup checks")

	if err := os.MkdirAll(cfg.Recording.LocalRoot, 0o750); err != nil {
		return fmt.Errorf("local root check failed: %w", err)
	}
	if err := checkWritableDir(cfg.Recording.LocalRoot); err != nil {
		return fmt.Errorf("local root check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.Recording.LocalRoot).Msg("local root is writable")

	if err := checkCaptureDependencies(logger, cfg.Capture); err != nil {
		return fmt.Errorf("capture check failed: %w", err)
	}

	if cfg.Sync.Enabled {
		if info, err := os.Stat(cfg.Sync.RemoteRoot); err != nil || !info.IsDir() {
			logger.Warn().
				Str(log.FieldEvent, "startup.remote_missing").
				Str(log.FieldRemotePath, cfg.Sync.RemoteRoot).
				Msg("remote root not available; artifacts stay local until it is mounted")
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkCaptureDependencies(logger zerolog.Logger, cfg config.CaptureConfig) error {
	if cfg.Source != config.SourceFFmpeg {
		logger.Info().Str(log.FieldSource, cfg.Source).Msg("capture source needs no external binary")
		return nil
	}
	bin := strings.TrimSpace(cfg.FFmpegBin)
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", bin, err)
	}
	logger.Info().Str("ffmpeg", path).Str(log.FieldDevice, cfg.Device).Msg("ffmpeg available")
	return nil
}
