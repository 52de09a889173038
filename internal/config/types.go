// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// AppConfig is the effective configuration of the daemon.
type AppConfig struct {
	Version string `yaml:"-"`

	Log         LogConfig         `yaml:"log"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recording   RecordingConfig   `yaml:"recording"`
	Sync        SyncConfig        `yaml:"sync"`
	AutoTrigger AutoTriggerConfig `yaml:"autoTrigger"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Capture sources.
const (
	SourceFFmpeg      = "ffmpeg"
	SourceTestPattern = "testpattern"
)

// CaptureConfig describes the frame source and the ingest path.
type CaptureConfig struct {
	Source      string `yaml:"source"`
	Device      string `yaml:"device"`
	InputFormat string `yaml:"inputFormat"` // ffmpeg demuxer, e.g. v4l2; empty lets ffmpeg probe
	InputCodec  string `yaml:"inputCodec"`  // requested device codec, e.g. mjpeg
	FFmpegBin   string `yaml:"ffmpegBin"`

	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FPSTarget   float64 `yaml:"fpsTarget"`
	JPEGQuality int     `yaml:"jpegQuality"`

	// FPSLogInterval is the measurement window for the achieved frame rate.
	FPSLogInterval time.Duration `yaml:"fpsLogInterval"`
	// Headroom is the extra buffered time beyond pre+post.
	Headroom time.Duration `yaml:"headroom"`
	// StaleAfter marks capture unhealthy when no frame arrived for this long.
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// RecordingConfig controls the pre/post recording jobs.
type RecordingConfig struct {
	Pre               time.Duration `yaml:"pre"`
	Post              time.Duration `yaml:"post"`
	LocalRoot         string        `yaml:"localRoot"`
	FilePrefix        string        `yaml:"filePrefix"`
	Extension         string        `yaml:"extension"`
	FourCC            string        `yaml:"fourcc"`
	DrainPollInterval time.Duration `yaml:"drainPollInterval"`
	StallWarnPolls    int           `yaml:"stallWarnPolls"`
	MaxStall          time.Duration `yaml:"maxStall"`      // 0 waits forever
	MaxConcurrent     int           `yaml:"maxConcurrent"` // 0 is unlimited
}

// SyncConfig controls replication to the remote mount.
type SyncConfig struct {
	Enabled          bool          `yaml:"enabled"`
	RemoteRoot       string        `yaml:"remoteRoot"`
	RequireMount     bool          `yaml:"requireMount"`
	ScanInterval     time.Duration `yaml:"scanInterval"`
	DaysBack         int           `yaml:"daysBack"`
	SettleAge        time.Duration `yaml:"settleAge"`
	CopyAttempts     int           `yaml:"copyAttempts"`
	RetryBackoffBase float64       `yaml:"retryBackoffBase"`
}

// AutoTriggerConfig controls the status feed poller.
type AutoTriggerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FeedURL          string        `yaml:"feedUrl"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	FailureCodes     []int         `yaml:"failureCodes"`
	RequireCancelled bool          `yaml:"requireCancelled"`
	StartArmed       bool          `yaml:"startArmed"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
}

// APIConfig controls the HTTP listeners.
type APIConfig struct {
	ListenAddr       string        `yaml:"listenAddr"`
	MetricsAddr      string        `yaml:"metricsAddr"` // empty serves /metrics on ListenAddr
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout"`
	TriggerRateLimit int           `yaml:"triggerRateLimit"` // requests per minute, 0 disables
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"serviceName"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:   "info",
			Service: "trigcam",
		},
		Capture: CaptureConfig{
			Source:         SourceFFmpeg,
			Device:         "/dev/video0",
			InputFormat:    "v4l2",
			InputCodec:     "mjpeg",
			FFmpegBin:      "ffmpeg",
			Width:          1280,
			Height:         720,
			FPSTarget:      30,
			JPEGQuality:    80,
			FPSLogInterval: 5 * time.Second,
			Headroom:       15 * time.Second,
			StaleAfter:     5 * time.Second,
		},
		Recording: RecordingConfig{
			Pre:               10 * time.Second,
			Post:              20 * time.Second,
			LocalRoot:         "/mnt/ssd/camera_videos",
			FilePrefix:        "video",
			Extension:         "mp4",
			FourCC:            "mp4v",
			DrainPollInterval: 3 * time.Millisecond,
			StallWarnPolls:    500,
			MaxConcurrent:     4,
		},
		Sync: SyncConfig{
			Enabled:          true,
			RemoteRoot:       "/mnt/vision_new1",
			RequireMount:     true,
			ScanInterval:     60 * time.Second,
			DaysBack:         2,
			SettleAge:        30 * time.Second,
			CopyAttempts:     3,
			RetryBackoffBase: 1.5,
		},
		AutoTrigger: AutoTriggerConfig{
			PollInterval:     2 * time.Second,
			RetryDelay:       5 * time.Second,
			RequestTimeout:   5 * time.Second,
			RequireCancelled: true,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		API: APIConfig{
			ListenAddr:       ":8080",
			ShutdownTimeout:  10 * time.Second,
			TriggerRateLimit: 30,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			ServiceName:  "trigcam",
			SamplingRate: 1.0,
		},
	}
}
