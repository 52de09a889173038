// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"math"

	"github.com/ManuGH/trigcam/internal/validate"
)

// Validate checks the full configuration and returns every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", err.Error(), cfg.Log.Level)
	}

	c := cfg.Capture
	v.OneOf("capture.source", c.Source, []string{SourceFFmpeg, SourceTestPattern})
	if c.Source == SourceFFmpeg {
		v.NotEmpty("capture.device", c.Device)
		v.NotEmpty("capture.ffmpegBin", c.FFmpegBin)
	}
	v.Range("capture.width", c.Width, 16, 7680)
	v.Range("capture.height", c.Height, 16, 4320)
	v.PositiveFloat("capture.fpsTarget", c.FPSTarget)
	v.Range("capture.jpegQuality", c.JPEGQuality, 1, 100)
	v.PositiveDuration("capture.fpsLogInterval", c.FPSLogInterval)
	v.NonNegativeDuration("capture.headroom", c.Headroom)
	v.PositiveDuration("capture.staleAfter", c.StaleAfter)

	r := cfg.Recording
	v.PositiveDuration("recording.pre", r.Pre)
	v.PositiveDuration("recording.post", r.Post)
	v.AbsDir("recording.localRoot", r.LocalRoot)
	v.NotEmpty("recording.filePrefix", r.FilePrefix)
	v.NotEmpty("recording.extension", r.Extension)
	v.FourCC("recording.fourcc", r.FourCC)
	v.PositiveDuration("recording.drainPollInterval", r.DrainPollInterval)
	v.Positive("recording.stallWarnPolls", r.StallWarnPolls)
	v.NonNegativeDuration("recording.maxStall", r.MaxStall)
	v.NonNegative("recording.maxConcurrent", r.MaxConcurrent)

	// The pre-window plus the post-window has to fit the ring buffer.
	frames := c.FPSTarget * (r.Pre + r.Post + c.Headroom).Seconds()
	if c.FPSTarget > 0 && (math.IsInf(frames, 0) || frames > 1<<24) {
		v.AddError("capture.headroom", fmt.Sprintf("buffer would hold %.0f frames, limit is %d", frames, 1<<24), frames)
	}

	s := cfg.Sync
	if s.Enabled {
		v.AbsDir("sync.remoteRoot", s.RemoteRoot)
		if s.RemoteRoot == r.LocalRoot {
			v.AddError("sync.remoteRoot", "must differ from recording.localRoot", s.RemoteRoot)
		}
		v.PositiveDuration("sync.scanInterval", s.ScanInterval)
		v.NonNegative("sync.daysBack", s.DaysBack)
		v.NonNegativeDuration("sync.settleAge", s.SettleAge)
		v.Positive("sync.copyAttempts", s.CopyAttempts)
		if s.RetryBackoffBase < 1 {
			v.AddError("sync.retryBackoffBase", fmt.Sprintf("must be >= 1, got %g", s.RetryBackoffBase), s.RetryBackoffBase)
		}
	}

	a := cfg.AutoTrigger
	if a.Enabled {
		v.URL("autoTrigger.feedUrl", a.FeedURL, []string{"http", "https"})
		v.PositiveDuration("autoTrigger.pollInterval", a.PollInterval)
		v.PositiveDuration("autoTrigger.retryDelay", a.RetryDelay)
		v.PositiveDuration("autoTrigger.requestTimeout", a.RequestTimeout)
		if len(a.FailureCodes) == 0 {
			v.AddError("autoTrigger.failureCodes", "at least one failure code is required", a.FailureCodes)
		}
		for _, code := range a.FailureCodes {
			if code == 0 {
				v.AddError("autoTrigger.failureCodes", "0 means no failure and cannot trigger", a.FailureCodes)
				break
			}
		}
		v.Positive("autoTrigger.breakerThreshold", a.BreakerThreshold)
		v.PositiveDuration("autoTrigger.breakerCooldown", a.BreakerCooldown)
	}

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	if cfg.API.MetricsAddr != "" {
		v.ListenAddr("api.metricsAddr", cfg.API.MetricsAddr)
	}
	v.PositiveDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout)
	v.NonNegative("api.triggerRateLimit", cfg.API.TriggerRateLimit)

	t := cfg.Telemetry
	if t.Enabled {
		v.OneOf("telemetry.exporter", t.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", t.Endpoint)
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", fmt.Sprintf("must be between 0 and 1, got %g", t.SamplingRate), t.SamplingRate)
		}
	}

	return v.Err()
}
