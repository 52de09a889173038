// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package replicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
	"github.com/rs/zerolog"
)

// Worker runs reconciliation passes on a fixed interval.
type Worker struct {
	engine   *Engine
	interval time.Duration
	daysBack int
	logger   zerolog.Logger

	runMu sync.Mutex

	mu      sync.RWMutex
	last    Report
	lastErr error
	lastAt  time.Time
}

// NewWorker returns a worker that reconciles daysBack days every interval.
func NewWorker(engine *Engine, interval time.Duration, daysBack int) *Worker {
	return &Worker{
		engine:   engine,
		interval: interval,
		daysBack: daysBack,
		logger:   log.WithComponent("sync-worker"),
	}
}

// Run reconciles once immediately and then on every tick until ctx is done.
// A failing pass is logged and never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str(log.FieldEvent, "sync.worker_started").
		Dur("interval", w.interval).
		Int("days_back", w.daysBack).
		Msg("sync worker started")
	defer w.logger.Info().Str(log.FieldEvent, "sync.worker_stopped").Msg("sync worker stopped")

	_, _ = w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one pass. Concurrent callers are serialized.
func (w *Worker) RunOnce(ctx context.Context) (report Report, err error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile panic: %v", r)
			w.logger.Error().
				Str(log.FieldEvent, "sync.panic").
				Interface("panic", r).
				Msg("reconciliation pass panicked")
		}
		w.mu.Lock()
		w.last, w.lastErr, w.lastAt = report, err, time.Now()
		w.mu.Unlock()
	}()

	report, err = w.engine.Reconcile(ctx, w.daysBack)
	switch {
	case errors.Is(err, ErrRemoteNotReady):
		w.logger.Debug().Str(log.FieldEvent, "sync.remote_not_ready").Msg("remote not ready, skipping pass")
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.logger.Warn().Err(err).Str(log.FieldEvent, "sync.pass_failed").Msg("reconciliation pass failed")
	}
	return report, err
}

// LastRun returns the result of the most recent pass. at is zero before the
// first pass.
func (w *Worker) LastRun() (report Report, at time.Time, err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.lastAt, w.lastErr
}
