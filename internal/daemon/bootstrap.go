// SPDX-License-Identifier: MIT

// Package daemon wires the recorder subsystems together and owns their
// lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/trigcam/internal/api"
	"github.com/ManuGH/trigcam/internal/autotrigger"
	"github.com/ManuGH/trigcam/internal/capture"
	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/health"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/media/ffmpeg"
	platformnet "github.com/ManuGH/trigcam/internal/platform/net"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/replicate"
	"github.com/ManuGH/trigcam/internal/statusfeed"
	"github.com/ManuGH/trigcam/internal/telemetry"
)

// Components are the wired subsystems of one daemon instance. SyncEngine,
// SyncWorker and Poller are nil when their feature is disabled.
type Components struct {
	Config     config.AppConfig
	Telemetry  *telemetry.Provider
	Buffer     *framebuf.Buffer
	Source     media.Source
	Capture    *capture.Worker
	Recorder   *recorder.Recorder
	SyncEngine *replicate.Engine
	SyncWorker *replicate.Worker
	Poller     *autotrigger.Poller
	Health     *health.Manager
	API        *api.Server
}

// OpenSource starts the configured frame source.
func OpenSource(ctx context.Context, cfg config.CaptureConfig) (media.Source, error) {
	switch cfg.Source {
	case config.SourceTestPattern:
		return media.NewTestPattern(cfg.Width, cfg.Height, cfg.FPSTarget), nil
	case config.SourceFFmpeg:
		return ffmpeg.OpenSource(ctx, cfg.FFmpegBin, ffmpeg.SourceSpec{
			Device:      cfg.Device,
			InputFormat: cfg.InputFormat,
			InputCodec:  cfg.InputCodec,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPSTarget,
		})
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// NewSyncEngine builds the replication engine over the filesystem store.
func NewSyncEngine(cfg config.AppConfig) *replicate.Engine {
	return replicate.NewEngine(replicate.Config{
		LocalRoot:        cfg.Recording.LocalRoot,
		RemoteRoot:       cfg.Sync.RemoteRoot,
		SettleAge:        cfg.Sync.SettleAge,
		CopyAttempts:     cfg.Sync.CopyAttempts,
		RetryBackoffBase: cfg.Sync.RetryBackoffBase,
		Extension:        cfg.Recording.Extension,
	}, replicate.FSStore{RequireMount: cfg.Sync.RequireMount})
}

// PolicyFrom maps the auto-trigger config onto the poller policy.
func PolicyFrom(cfg config.AutoTriggerConfig) autotrigger.Policy {
	return autotrigger.Policy{
		FailureCodes:     append([]int(nil), cfg.FailureCodes...),
		RequireCancelled: cfg.RequireCancelled,
	}
}

// Build wires every subsystem from cfg. The frame source is opened with
// ctx and must be released through the shutdown hooks.
func Build(ctx context.Context, cfg config.AppConfig) (*Components, error) {
	logger := log.WithComponent("bootstrap")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    config.ParseString("TRIGCAM_ENVIRONMENT", "production"),
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		tp, _ = telemetry.NewProvider(ctx, telemetry.Config{})
	}

	c := &Components{Config: cfg, Telemetry: tp}

	window := cfg.Recording.Pre + cfg.Recording.Post + cfg.Capture.Headroom
	c.Buffer = framebuf.New(framebuf.Capacity(cfg.Capture.FPSTarget, window))

	src, err := OpenSource(ctx, cfg.Capture)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open capture source: %w", err)
	}
	c.Source = src

	codec := media.JPEGCodec{Quality: cfg.Capture.JPEGQuality}
	c.Capture = capture.NewWorker(capture.Config{
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		FPSTarget: cfg.Capture.FPSTarget,
		FPSWindow: cfg.Capture.FPSLogInterval,
	}, src, codec, c.Buffer)

	var uploader recorder.Uploader
	if cfg.Sync.Enabled {
		c.SyncEngine = NewSyncEngine(cfg)
		c.SyncWorker = replicate.NewWorker(c.SyncEngine, cfg.Sync.ScanInterval, cfg.Sync.DaysBack)
		uploader = c.SyncEngine
	}

	c.Recorder = recorder.New(recorder.Config{
		Pre:               cfg.Recording.Pre,
		Post:              cfg.Recording.Post,
		LocalRoot:         cfg.Recording.LocalRoot,
		FilePrefix:        cfg.Recording.FilePrefix,
		Extension:         cfg.Recording.Extension,
		FourCC:            cfg.Recording.FourCC,
		FPSTarget:         cfg.Capture.FPSTarget,
		DrainPollInterval: cfg.Recording.DrainPollInterval,
		StallWarnPolls:    cfg.Recording.StallWarnPolls,
		MaxStall:          cfg.Recording.MaxStall,
		MaxConcurrent:     cfg.Recording.MaxConcurrent,
	}, c.Buffer, codec, ffmpeg.NewSink(cfg.Capture.FFmpegBin), c.Capture, uploader)

	if cfg.AutoTrigger.Enabled {
		feed := statusfeed.New(cfg.AutoTrigger.FeedURL, statusfeed.Options{
			Timeout:          cfg.AutoTrigger.RequestTimeout,
			BreakerThreshold: cfg.AutoTrigger.BreakerThreshold,
			BreakerCooldown:  cfg.AutoTrigger.BreakerCooldown,
		})
		c.Poller = autotrigger.New(autotrigger.Config{
			PollInterval: cfg.AutoTrigger.PollInterval,
			RetryDelay:   cfg.AutoTrigger.RetryDelay,
			StartArmed:   cfg.AutoTrigger.StartArmed,
			Policy:       PolicyFrom(cfg.AutoTrigger),
		}, feed, c.Recorder)
	}

	c.Health = health.NewManager(cfg.Version)
	c.Health.RegisterChecker(health.NewWritableDirChecker("local_root", cfg.Recording.LocalRoot))
	c.Health.RegisterChecker(health.NewFreshnessChecker(c.Capture.LastFrameAt, cfg.Capture.StaleAfter).
		WithSourceErr(c.Capture.SourceErr))
	if c.SyncWorker != nil {
		c.Health.RegisterChecker(health.NewRemoteChecker(c.SyncEngine.IsRemoteReady))
		worker := c.SyncWorker
		c.Health.RegisterChecker(health.NewLastRunChecker(func() (time.Time, string) {
			_, at, err := worker.LastRun()
			if err != nil {
				return at, err.Error()
			}
			return at, ""
		}, 3*cfg.Sync.ScanInterval))
	}

	deps := api.Deps{
		Version:          cfg.Version,
		Recorder:         c.Recorder,
		Capture:          c.Capture,
		Buffer:           c.Buffer,
		Health:           c.Health,
		TriggerRateLimit: cfg.API.TriggerRateLimit,
		ServeMetrics:     cfg.API.MetricsAddr == "",
	}
	if cfg.Telemetry.Enabled {
		deps.TracingService = cfg.Telemetry.ServiceName
	}
	if c.SyncWorker != nil {
		deps.Sync = c.SyncWorker
	}
	if c.Poller != nil {
		deps.AutoTrigger = c.Poller
	}
	c.API = api.New(deps)

	logger.Info().
		Str(log.FieldEvent, "bootstrap.wired").
		Str(log.FieldSource, cfg.Capture.Source).
		Int("buffer_cap", c.Buffer.Cap()).
		Bool("sync", cfg.Sync.Enabled).
		Bool("autotrigger", cfg.AutoTrigger.Enabled).
		Msg("components wired")
	return c, nil
}

// Runners returns the long-lived workers of c.
func (c *Components) Runners() []Runner {
	runners := []Runner{{Name: "capture", Run: c.Capture.Run}}
	if c.SyncWorker != nil {
		runners = append(runners, Runner{Name: "sync", Run: c.SyncWorker.Run})
	}
	if c.Poller != nil {
		runners = append(runners, Runner{Name: "autotrigger", Run: c.Poller.Run})
	}
	return runners
}

// ApplyReload pushes the hot-reloadable fields of cfg into running workers.
func (c *Components) ApplyReload(cfg config.AppConfig) {
	if c.Poller != nil {
		c.Poller.SetPolicy(PolicyFrom(cfg.AutoTrigger))
	}
}

// RegisterShutdownHooks registers cleanup in start order; the manager runs
// them in reverse.
func (c *Components) RegisterShutdownHooks(m Manager) {
	m.RegisterShutdownHook("telemetry", c.Telemetry.Shutdown)
	m.RegisterShutdownHook("capture_source", func(context.Context) error {
		return c.Source.Close()
	})
	// Recording jobs are detached from shutdown. Waiting is bounded by the
	// hook context; unfinished jobs are left to the next reconciliation.
	m.RegisterShutdownHook("recordings", func(ctx context.Context) error {
		if err := c.Recorder.Wait(ctx); err != nil {
			logger := log.WithComponent("daemon")
			logger.Warn().
				Int("in_flight", c.Recorder.InFlight()).
				Str(log.FieldEvent, "recordings.shutdown_incomplete").
				Msg("recordings still running at shutdown")
		}
		return nil
	})
}

// Serve builds and runs the daemon until ctx is cancelled.
func Serve(ctx context.Context, cfg config.AppConfig, holder *config.ConfigHolder) error {
	logger := log.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	c, err := Build(ctx, cfg)
	if err != nil {
		return err
	}

	mgr, err := NewManager(Deps{
		Logger:         logger,
		API:            cfg.API,
		APIHandler:     c.API.Handler(),
		MetricsHandler: api.MetricsHandler(),
	})
	if err != nil {
		_ = c.Source.Close()
		_ = c.Telemetry.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	c.RegisterShutdownHooks(mgr)

	app := NewApp(logger, mgr, holder, c.Runners(), c.ApplyReload)
	logStartup(logger, cfg)
	return app.Run(ctx)
}

func logStartup(logger zerolog.Logger, cfg config.AppConfig) {
	if cfg.AutoTrigger.Enabled {
		logger.Info().
			Str(log.FieldEvent, "autotrigger.feed").
			Str(log.FieldURL, platformnet.SanitizeURL(cfg.AutoTrigger.FeedURL)).
			Dur("interval", cfg.AutoTrigger.PollInterval).
			Msg("auto-trigger enabled")
	}
	logger.Info().
		Str(log.FieldEvent, "daemon.start").
		Str("version", cfg.Version).
		Dur("pre", cfg.Recording.Pre).
		Dur("post", cfg.Recording.Post).
		Str(log.FieldPath, cfg.Recording.LocalRoot).
		Str(log.FieldRemotePath, cfg.Sync.RemoteRoot).
		Msg("starting trigcam daemon")
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
