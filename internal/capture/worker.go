// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package capture runs the ingest worker that feeds camera frames into the
// ring buffer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const readErrorBackoff = 10 * time.Millisecond

// Config describes the canonical frame geometry and rate measurement.
type Config struct {
	Width     int
	Height    int
	FPSTarget float64
	// FPSWindow is the nominal time between frame rate measurements; the
	// worker re-measures every FPSTarget*FPSWindow frames.
	FPSWindow time.Duration
}

// Worker is the single writer of the ring buffer.
type Worker struct {
	cfg    Config
	src    media.Source
	codec  media.Codec
	buf    *framebuf.Buffer
	logger zerolog.Logger
	now    func() time.Time

	fpsBits atomic.Uint64

	mu        sync.RWMutex
	width     int
	height    int
	lastFrame time.Time
	sourceErr error

	errLog rate.Sometimes
}

// NewWorker wires a worker. The measured frame rate starts at the target.
func NewWorker(cfg Config, src media.Source, codec media.Codec, buf *framebuf.Buffer) *Worker {
	w := &Worker{
		cfg:    cfg,
		src:    src,
		codec:  codec,
		buf:    buf,
		logger: log.WithComponent("capture"),
		now:    time.Now,
		errLog: rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
	w.fpsBits.Store(math.Float64bits(cfg.FPSTarget))
	return w
}

// CurrentFPS returns the most recently measured capture rate.
func (w *Worker) CurrentFPS() float64 {
	return math.Float64frombits(w.fpsBits.Load())
}

// LatestFrameSize returns the dimensions of the newest raw frame.
func (w *Worker) LatestFrameSize() (width, height int, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.width, w.height, w.width > 0 && w.height > 0
}

// LastFrameAt returns when the last frame was buffered, zero if none yet.
func (w *Worker) LastFrameAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastFrame
}

// SourceErr returns why the frame source ended, nil while it is live.
func (w *Worker) SourceErr() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sourceErr
}

func (w *Worker) measureEvery() int {
	n := int(w.cfg.FPSTarget * w.cfg.FPSWindow.Seconds())
	if n < 1 {
		return 1
	}
	return n
}

// Run ingests frames until ctx is cancelled or the source closes. Read and
// encode failures skip the frame. A closed source stops ingest only: the
// buffer freezes, SourceErr reports the cause and Run returns nil so the
// rest of the daemon keeps serving and replicating.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str(log.FieldEvent, "capture.started").
		Str(log.FieldResolution, resolution(w.cfg.Width, w.cfg.Height)).
		Float64(log.FieldFPS, w.cfg.FPSTarget).
		Int("buffer_cap", w.buf.Cap()).
		Msg("capture started")
	defer w.logger.Info().Str(log.FieldEvent, "capture.stopped").Msg("capture stopped")

	measureEvery := w.measureEvery()
	frames := 0
	windowStart := w.now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, err := w.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, media.ErrSourceClosed) || errors.Is(err, io.EOF) {
				w.mu.Lock()
				w.sourceErr = err
				w.mu.Unlock()
				metrics.SetCaptureFPS(0)
				w.logger.Error().Err(err).Str(log.FieldEvent, "capture.source_closed").Msg("frame source closed, ingest stopped")
				return nil
			}
			metrics.RecordIngestError(metrics.StageRead)
			w.errLog.Do(func() {
				w.logger.Warn().Err(err).Str(log.FieldEvent, "capture.read_failed").Msg("frame read failed, skipping")
			})
			if !sleepCtx(ctx, readErrorBackoff) {
				return nil
			}
			continue
		}

		if !media.SameSize(img, w.cfg.Width, w.cfg.Height) {
			img = w.codec.Resize(img, w.cfg.Width, w.cfg.Height)
		}

		data, err := w.codec.Encode(img)
		if err != nil {
			metrics.RecordIngestError(metrics.StageEncode)
			w.errLog.Do(func() {
				w.logger.Warn().Err(err).Str(log.FieldEvent, "capture.encode_failed").Msg("frame encode failed, skipping")
			})
			continue
		}

		ts := w.now()
		evicted := w.buf.Append(ts, data)
		metrics.RecordFrameIngested(w.buf.Len(), evicted)

		b := img.Bounds()
		w.mu.Lock()
		w.width, w.height = b.Dx(), b.Dy()
		w.lastFrame = ts
		w.mu.Unlock()

		frames++
		if frames >= measureEvery {
			if elapsed := w.now().Sub(windowStart).Seconds(); elapsed > 0 {
				fps := float64(frames) / elapsed
				w.fpsBits.Store(math.Float64bits(fps))
				metrics.SetCaptureFPS(fps)
				w.logger.Info().
					Str(log.FieldEvent, "capture.fps_measured").
					Float64(log.FieldFPS, math.Round(fps*100)/100).
					Msg("measured capture rate")
			}
			frames = 0
			windowStart = w.now()
		}
	}
}

func resolution(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
