// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty when running from ENV only.
func (l *Loader) Path() string { return l.configPath }

// Load builds the effective configuration: defaults, then the strict YAML
// file, then TRIGCAM_* environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Unknown fields and trailing
// documents are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) envString(key, def string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, def)
}

func (l *Loader) envIntList(key string, def []int) []int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseIntList(key, def)
}

// mergeEnv applies TRIGCAM_* overrides on top of defaults and file values.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("LOG_SERVICE", cfg.Log.Service)

	c := &cfg.Capture
	c.Source = l.envString("CAPTURE_SOURCE", c.Source)
	c.Device = l.envString("CAPTURE_DEVICE", c.Device)
	c.InputFormat = l.envString("CAPTURE_INPUT_FORMAT", c.InputFormat)
	c.InputCodec = l.envString("CAPTURE_INPUT_CODEC", c.InputCodec)
	c.FFmpegBin = l.envString("FFMPEG_BIN", c.FFmpegBin)
	c.Width = l.envInt("CAPTURE_WIDTH", c.Width)
	c.Height = l.envInt("CAPTURE_HEIGHT", c.Height)
	c.FPSTarget = l.envFloat("CAPTURE_FPS", c.FPSTarget)
	c.JPEGQuality = l.envInt("CAPTURE_JPEG_QUALITY", c.JPEGQuality)
	c.FPSLogInterval = l.envDuration("CAPTURE_FPS_LOG_INTERVAL", c.FPSLogInterval)
	c.Headroom = l.envDuration("CAPTURE_HEADROOM", c.Headroom)
	c.StaleAfter = l.envDuration("CAPTURE_STALE_AFTER", c.StaleAfter)

	r := &cfg.Recording
	r.Pre = l.envDuration("RECORDING_PRE", r.Pre)
	r.Post = l.envDuration("RECORDING_POST", r.Post)
	r.LocalRoot = l.envString("RECORDING_LOCAL_ROOT", r.LocalRoot)
	r.FilePrefix = l.envString("RECORDING_FILE_PREFIX", r.FilePrefix)
	r.Extension = l.envString("RECORDING_EXTENSION", r.Extension)
	r.FourCC = l.envString("RECORDING_FOURCC", r.FourCC)
	r.DrainPollInterval = l.envDuration("RECORDING_DRAIN_POLL_INTERVAL", r.DrainPollInterval)
	r.StallWarnPolls = l.envInt("RECORDING_STALL_WARN_POLLS", r.StallWarnPolls)
	r.MaxStall = l.envDuration("RECORDING_MAX_STALL", r.MaxStall)
	r.MaxConcurrent = l.envInt("RECORDING_MAX_CONCURRENT", r.MaxConcurrent)

	s := &cfg.Sync
	s.Enabled = l.envBool("SYNC_ENABLED", s.Enabled)
	s.RemoteRoot = l.envString("SYNC_REMOTE_ROOT", s.RemoteRoot)
	s.RequireMount = l.envBool("SYNC_REQUIRE_MOUNT", s.RequireMount)
	s.ScanInterval = l.envDuration("SYNC_SCAN_INTERVAL", s.ScanInterval)
	s.DaysBack = l.envInt("SYNC_DAYS_BACK", s.DaysBack)
	s.SettleAge = l.envDuration("SYNC_SETTLE_AGE", s.SettleAge)
	s.CopyAttempts = l.envInt("SYNC_COPY_ATTEMPTS", s.CopyAttempts)
	s.RetryBackoffBase = l.envFloat("SYNC_RETRY_BACKOFF_BASE", s.RetryBackoffBase)

	a := &cfg.AutoTrigger
	a.Enabled = l.envBool("AUTOTRIGGER_ENABLED", a.Enabled)
	a.FeedURL = l.envString("AUTOTRIGGER_FEED_URL", a.FeedURL)
	a.PollInterval = l.envDuration("AUTOTRIGGER_POLL_INTERVAL", a.PollInterval)
	a.RetryDelay = l.envDuration("AUTOTRIGGER_RETRY_DELAY", a.RetryDelay)
	a.RequestTimeout = l.envDuration("AUTOTRIGGER_REQUEST_TIMEOUT", a.RequestTimeout)
	a.FailureCodes = l.envIntList("AUTOTRIGGER_FAILURE_CODES", a.FailureCodes)
	a.RequireCancelled = l.envBool("AUTOTRIGGER_REQUIRE_CANCELLED", a.RequireCancelled)
	a.StartArmed = l.envBool("AUTOTRIGGER_START_ARMED", a.StartArmed)
	a.BreakerThreshold = l.envInt("AUTOTRIGGER_BREAKER_THRESHOLD", a.BreakerThreshold)
	a.BreakerCooldown = l.envDuration("AUTOTRIGGER_BREAKER_COOLDOWN", a.BreakerCooldown)

	cfg.API.ListenAddr = l.envString("API_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.MetricsAddr = l.envString("API_METRICS_ADDR", cfg.API.MetricsAddr)
	cfg.API.ShutdownTimeout = l.envDuration("API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.TriggerRateLimit = l.envInt("API_TRIGGER_RATE_LIMIT", cfg.API.TriggerRateLimit)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("TELEMETRY_ENABLED", t.Enabled)
	t.Exporter = l.envString("TELEMETRY_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("TELEMETRY_ENDPOINT", t.Endpoint)
	t.ServiceName = l.envString("TELEMETRY_SERVICE_NAME", t.ServiceName)
	t.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", t.SamplingRate)
}
