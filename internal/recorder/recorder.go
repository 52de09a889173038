// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recorder turns a trigger into a video artifact spanning a fixed
// interval before and after the trigger instant.
//
// The pre-window is sliced from frames already held by the ring buffer; the
// post-window is drained from the buffer as new frames arrive. Each accepted
// trigger runs as an independent job that is detached from the caller's
// context and always runs to completion.
package recorder

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Rejection reasons. Their messages are stable and returned to API callers.
var (
	ErrBufferEmpty   = errors.New("buffer empty")
	ErrBufferNotFull = errors.New("buffer not full yet")
	ErrCannotDecode  = errors.New("cannot decode frame")
	ErrCapacity      = errors.New("too many recordings in flight")
)

// ErrStalled ends a job whose drain saw no new frame for longer than MaxStall.
var ErrStalled = errors.New("post-window drain stalled")

const maxHistory = 32

// Config controls recording jobs.
type Config struct {
	Pre        time.Duration
	Post       time.Duration
	LocalRoot  string
	FilePrefix string
	Extension  string
	FourCC     string
	FPSTarget  float64

	DrainPollInterval time.Duration
	StallWarnPolls    int
	MaxStall          time.Duration // 0 waits forever
	MaxConcurrent     int           // 0 is unlimited
}

// FrameInfo exposes live capture measurements.
type FrameInfo interface {
	CurrentFPS() float64
	LatestFrameSize() (width, height int, ok bool)
}

// Uploader replicates a finished artifact. Any error leaves the artifact for
// background reconciliation.
type Uploader interface {
	UploadNow(ctx context.Context, path string) error
}

// Result is the outcome of a trigger call.
type Result struct {
	Accepted bool   `json:"success"`
	Message  string `json:"message"`
	JobID    string `json:"job_id,omitempty"`
	Err      error  `json:"-"`
}

// Recorder accepts triggers and runs recording jobs.
type Recorder struct {
	cfg      Config
	buf      *framebuf.Buffer
	codec    media.Codec
	sink     media.Sink
	frames   FrameInfo
	uploader Uploader
	logger   zerolog.Logger
	now      func() time.Time

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu       sync.Mutex
	jobs     map[string]*job
	history  []JobInfo
	reserved map[string]struct{}
}

// New wires a recorder. frames and uploader may be nil: the frame size then
// comes from decoding the newest sample, the rate from FPSTarget, and every
// artifact is left for reconciliation.
func New(cfg Config, buf *framebuf.Buffer, codec media.Codec, sink media.Sink, frames FrameInfo, uploader Uploader) *Recorder {
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 3 * time.Millisecond
	}
	r := &Recorder{
		cfg:      cfg,
		buf:      buf,
		codec:    codec,
		sink:     sink,
		frames:   frames,
		uploader: uploader,
		logger:   log.WithComponent("recorder"),
		now:      time.Now,
		jobs:     make(map[string]*job),
		reserved: make(map[string]struct{}),
	}
	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return r
}

// Trigger validates the buffer and starts a recording job anchored at the
// newest buffered frame. It never blocks on the job itself. source labels
// the caller ("manual", "auto", ...).
func (r *Recorder) Trigger(ctx context.Context, source string) Result {
	snap := r.buf.Snapshot()
	if len(snap) == 0 {
		return r.reject(source, "buffer_empty", ErrBufferEmpty)
	}

	anchor := snap[len(snap)-1].Timestamp
	if anchor.Sub(snap[0].Timestamp) < r.cfg.Pre {
		return r.reject(source, "buffer_not_full", ErrBufferNotFull)
	}
	pre := PreWindow(snap, anchor, r.cfg.Pre)

	width, height, err := r.frameSize(snap[len(snap)-1])
	if err != nil {
		return r.reject(source, "decode_failed", err)
	}

	if r.sem != nil && !r.sem.TryAcquire(1) {
		return r.reject(source, "capacity", ErrCapacity)
	}

	j := newJob(source, anchor, width, height, len(pre), r.now())
	r.mu.Lock()
	r.jobs[j.info.ID] = j
	r.mu.Unlock()

	r.inFlight.Add(1)
	metrics.RecordingStarted()
	metrics.RecordTrigger(source, "accepted")

	r.logger.Info().
		Str(log.FieldEvent, "trigger.accepted").
		Str(log.FieldJobID, j.info.ID).
		Str(log.FieldSource, source).
		Time(log.FieldAnchor, anchor).
		Int("pre_frames", len(pre)).
		Msg("recording started")

	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), j, pre)

	return Result{Accepted: true, Message: "recording started", JobID: j.info.ID}
}

func (r *Recorder) reject(source, outcome string, err error) Result {
	metrics.RecordTrigger(source, outcome)
	r.logger.Warn().
		Str(log.FieldEvent, "trigger.rejected").
		Str(log.FieldSource, source).
		Str("reason", err.Error()).
		Msg("trigger rejected")
	return Result{Accepted: false, Message: err.Error(), Err: err}
}

// frameSize prefers the size of the newest raw frame and falls back to
// decoding the newest buffered sample.
func (r *Recorder) frameSize(latest framebuf.Sample) (int, int, error) {
	if r.frames != nil {
		if w, h, ok := r.frames.LatestFrameSize(); ok {
			return w, h, nil
		}
	}
	img, err := r.codec.Decode(latest.Payload)
	if err != nil {
		return 0, 0, ErrCannotDecode
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0, 0, ErrCannotDecode
	}
	return b.Dx(), b.Dy(), nil
}

// fps reads the measured capture rate once per job.
func (r *Recorder) fps() float64 {
	if r.frames != nil {
		if fps := r.frames.CurrentFPS(); fps > 0 {
			return fps
		}
	}
	return r.cfg.FPSTarget
}

// PreWindow returns the samples of snap with anchor-pre <= ts <= anchor.
// snap must be ordered by timestamp.
func PreWindow(snap []framebuf.Sample, anchor time.Time, pre time.Duration) []framebuf.Sample {
	start := anchor.Add(-pre)
	lo := sort.Search(len(snap), func(i int) bool {
		return !snap[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(snap), func(i int) bool {
		return snap[i].Timestamp.After(anchor)
	})
	if lo >= hi {
		return nil
	}
	return snap[lo:hi]
}

// InFlight returns the number of running jobs.
func (r *Recorder) InFlight() int {
	return int(r.inFlight.Load())
}

// Jobs returns running jobs followed by recently finished ones, newest first.
func (r *Recorder) Jobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobInfo, 0, len(r.jobs)+len(r.history))
	for _, j := range r.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	for i := len(r.history) - 1; i >= 0; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// Wait blocks until every running job has finished or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) finish(j *job) {
	info := j.snapshot()

	r.mu.Lock()
	delete(r.jobs, info.ID)
	delete(r.reserved, info.Path)
	r.history = append(r.history, info)
	if len(r.history) > maxHistory {
		r.history = r.history[len(r.history)-maxHistory:]
	}
	r.mu.Unlock()

	if r.sem != nil {
		r.sem.Release(1)
	}
	r.inFlight.Add(-1)
	metrics.RecordingFinished(string(info.Status))
}

// canonical returns img at the job's output size.
func (r *Recorder) canonical(img image.Image, width, height int) image.Image {
	if media.SameSize(img, width, height) {
		return img
	}
	return r.codec.Resize(img, width, height)
}
