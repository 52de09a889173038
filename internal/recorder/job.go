// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/metrics"
	"github.com/ManuGH/trigcam/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// stallLogInterval bounds how often one job repeats its stall warning.
const stallLogInterval = 10 * time.Second

// Status is the lifecycle state of a recording job.
type Status string

const (
	StatusRecording     Status = "recording"
	StatusWriting       Status = "writing"
	StatusUploaded      Status = "uploaded"
	StatusPendingUpload Status = "pending_upload"
	StatusFailed        Status = "failed"
)

// JobInfo is a read-only view of a recording job.
type JobInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Anchor     time.Time `json:"anchor"`
	Path       string    `json:"path,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FPS        float64   `json:"fps"`
	Status     Status    `json:"status"`
	PreFrames  int       `json:"pre_frames"`
	PostFrames int       `json:"post_frames"`
	Skipped    int       `json:"skipped_frames"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

type job struct {
	mu   sync.Mutex
	info JobInfo
}

func newJob(source string, anchor time.Time, width, height, preFrames int, now time.Time) *job {
	return &job{info: JobInfo{
		ID:        uuid.NewString(),
		Source:    source,
		Anchor:    anchor,
		Width:     width,
		Height:    height,
		Status:    StatusRecording,
		PreFrames: preFrames,
		StartedAt: now,
	}}
}

func (j *job) snapshot() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info
}

func (j *job) update(fn func(*JobInfo)) {
	j.mu.Lock()
	fn(&j.info)
	j.mu.Unlock()
}

func (j *job) fail(err error) {
	j.update(func(i *JobInfo) {
		i.Status = StatusFailed
		i.Error = err.Error()
	})
}

// run is the body of one recording job. Jobs that fail after the artifact
// exists keep it on disk for reconciliation.
func (r *Recorder) run(ctx context.Context, j *job, pre []framebuf.Sample) {
	defer r.wg.Done()
	defer r.finish(j)

	info := j.snapshot()
	ctx = log.ContextWithJobID(ctx, info.ID)
	logger := log.WithContext(ctx, r.logger)

	ctx, span := telemetry.Tracer("trigcam/recorder").Start(ctx, "recording.job",
		trace.WithAttributes(telemetry.RecordingAttributes(info.ID, info.Source, info.Anchor, "")...))
	defer span.End()
	defer func() {
		final := j.snapshot()
		span.SetAttributes(telemetry.RecordingResultAttributes(string(final.Status), final.FPS, final.PreFrames, final.PostFrames)...)
		if final.Status == StatusFailed {
			span.SetStatus(codes.Error, final.Error)
		}
		j.update(func(i *JobInfo) { i.FinishedAt = r.now() })
		logger.Info().
			Str(log.FieldEvent, "recording.finished").
			Str(log.FieldPath, final.Path).
			Str("status", string(final.Status)).
			Int("pre_frames", final.PreFrames).
			Int("post_frames", final.PostFrames).
			Int("skipped_frames", final.Skipped).
			Msg("recording finished")
	}()

	path, err := r.reservePath(info.Anchor)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "recording.path_failed").Msg("cannot prepare artifact path")
		j.fail(err)
		return
	}
	fps := r.fps()
	j.update(func(i *JobInfo) {
		i.Path = path
		i.FPS = fps
	})
	span.SetAttributes(telemetry.RecordingAttributes(info.ID, info.Source, info.Anchor, path)...)

	writer, err := r.sink.Open(path, r.cfg.FourCC, fps, info.Width, info.Height)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "recording.open_failed").
			Str(log.FieldPath, path).
			Msg("cannot open video sink")
		j.fail(fmt.Errorf("open sink: %w", err))
		return
	}

	logger.Info().
		Str(log.FieldEvent, "recording.opened").
		Str(log.FieldPath, path).
		Float64(log.FieldFPS, fps).
		Str(log.FieldResolution, fmt.Sprintf("%dx%d", info.Width, info.Height)).
		Msg("artifact opened")

	written, skipped, err := r.writeSamples(writer, pre, info.Width, info.Height, logger)
	metrics.RecordRecordingFrames("pre", written)
	metrics.RecordRecordingFrames("skipped", skipped)
	j.update(func(i *JobInfo) {
		i.PreFrames = written
		i.Skipped += skipped
	})
	if err == nil {
		err = r.drain(j, writer, logger)
	}

	j.update(func(i *JobInfo) { i.Status = StatusWriting })
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("finalize artifact: %w", closeErr)
	}
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "recording.failed").
			Str(log.FieldPath, path).
			Msg("recording failed, artifact left for reconciliation")
		j.fail(err)
		return
	}

	if r.uploader == nil {
		j.update(func(i *JobInfo) { i.Status = StatusPendingUpload })
		return
	}
	if err := r.uploader.UploadNow(ctx, path); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "recording.upload_pending").
			Str(log.FieldPath, path).
			Msg("upload deferred to reconciliation")
		j.update(func(i *JobInfo) {
			i.Status = StatusPendingUpload
			i.Error = err.Error()
		})
		return
	}
	j.update(func(i *JobInfo) { i.Status = StatusUploaded })
}

// drain writes samples in (anchor, anchor+Post] as they arrive. Without
// MaxStall it only returns once the window is complete.
func (r *Recorder) drain(j *job, writer media.Writer, logger zerolog.Logger) error {
	info := j.snapshot()
	end := info.Anchor.Add(r.cfg.Post)
	last := info.Anchor

	timer := time.NewTimer(r.cfg.DrainPollInterval)
	defer timer.Stop()

	emptyPolls := 0
	lastProgress := r.now()
	stallLog := rate.Sometimes{First: 1, Interval: stallLogInterval}
	for last.Before(end) {
		changed := r.buf.Changed()
		batch := r.buf.ItemsAfter(last)

		if len(batch) == 0 {
			emptyPolls++
			if r.cfg.StallWarnPolls > 0 && emptyPolls%r.cfg.StallWarnPolls == 0 {
				metrics.RecordStallWarning()
				stallLog.Do(func() {
					logger.Warn().
						Str(log.FieldEvent, "recording.stall").
						Int("empty_polls", emptyPolls).
						Dur("remaining", end.Sub(last)).
						Msg("no new frames for post-window")
				})
			}
			if r.cfg.MaxStall > 0 && r.now().Sub(lastProgress) >= r.cfg.MaxStall {
				return ErrStalled
			}
			timer.Reset(r.cfg.DrainPollInterval)
			select {
			case <-changed:
			case <-timer.C:
			}
			continue
		}

		emptyPolls = 0
		lastProgress = r.now()

		var window []framebuf.Sample
		for i, s := range batch {
			if s.Timestamp.After(end) {
				window = batch[:i]
				break
			}
			window = batch[:i+1]
		}
		written, skipped, err := r.writeSamples(writer, window, info.Width, info.Height, logger)
		metrics.RecordRecordingFrames("post", written)
		metrics.RecordRecordingFrames("skipped", skipped)
		j.update(func(i *JobInfo) {
			i.PostFrames += written
			i.Skipped += skipped
		})
		if err != nil {
			return err
		}

		if len(window) < len(batch) {
			last = end
		} else {
			last = window[len(window)-1].Timestamp
		}
	}
	return nil
}

// writeSamples decodes, normalizes and appends samples in order. Undecodable
// samples are skipped; a writer failure aborts.
func (r *Recorder) writeSamples(w media.Writer, samples []framebuf.Sample, width, height int, logger zerolog.Logger) (written, skipped int, err error) {
	for _, s := range samples {
		img, decErr := r.codec.Decode(s.Payload)
		if decErr != nil {
			skipped++
			logger.Debug().Err(decErr).
				Str(log.FieldEvent, "recording.frame_skipped").
				Time("ts", s.Timestamp).
				Msg("skipping undecodable frame")
			continue
		}
		if err := w.Append(r.canonical(img, width, height)); err != nil {
			return written, skipped, fmt.Errorf("append frame: %w", err)
		}
		written++
	}
	return written, skipped, nil
}
