// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package replicate mirrors finished artifacts to a remote store that may
// be unreachable for long periods.
//
// There is no upload queue. Pending work is whatever local artifact is
// missing from the remote tree or differs from it in size, and Reconcile
// re-derives it on every pass.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/metrics"
	"github.com/ManuGH/trigcam/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DayLayout names the date partition directories on both sides.
const DayLayout = "2006-01-02"

// ErrRemoteNotReady means the remote root is unmounted or read-only.
var ErrRemoteNotReady = errors.New("remote not ready")

// PendingError is returned by UploadNow when an artifact stays local.
type PendingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("upload pending for %s: %s", e.Path, e.Reason)
}

func (e *PendingError) Unwrap() error {
	return e.Err
}

// Config controls the engine.
type Config struct {
	LocalRoot  string
	RemoteRoot string
	// SettleAge is the minimum modification age before reconciliation
	// touches a local artifact.
	SettleAge        time.Duration
	CopyAttempts     int
	RetryBackoffBase float64
	// Extension limits reconciliation to artifacts with this extension.
	// Empty matches every regular file.
	Extension string
}

// Report summarizes one reconciliation pass.
type Report struct {
	RemoteReady bool          `json:"remote_ready"`
	Scanned     int           `json:"scanned"`
	Settling    int           `json:"settling"`
	UpToDate    int           `json:"up_to_date"`
	Copied      int           `json:"copied"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration_ns"`
}

// Engine implements immediate uploads and reconciliation passes.
type Engine struct {
	cfg    Config
	store  RemoteStore
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine returns an engine over store.
func NewEngine(cfg Config, store RemoteStore) *Engine {
	if cfg.CopyAttempts < 1 {
		cfg.CopyAttempts = 1
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("replicate"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// IsRemoteReady reports whether the remote root is mounted and writable.
func (e *Engine) IsRemoteReady() bool {
	ready := e.store.MountCheck(e.cfg.RemoteRoot) && e.store.Writable(e.cfg.RemoteRoot)
	metrics.SetRemoteReady(ready)
	return ready
}

// RemotePath mirrors a local artifact path under the remote root.
func (e *Engine) RemotePath(local string) (string, error) {
	rel, err := filepath.Rel(e.cfg.LocalRoot, local)
	if err != nil {
		return "", fmt.Errorf("artifact outside local root: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %s outside local root %s", local, e.cfg.LocalRoot)
	}
	return filepath.Join(e.cfg.RemoteRoot, rel), nil
}

// UploadNow copies one finished artifact. It never panics or blocks on an
// unreachable remote: every failure comes back as a *PendingError and the
// local file is left untouched.
func (e *Engine) UploadNow(ctx context.Context, local string) error {
	ctx, span := telemetry.Tracer("trigcam/replicate").Start(ctx, "sync.upload",
		trace.WithAttributes(telemetry.UploadAttributes(local, "")...))
	defer span.End()

	logger := log.WithContext(ctx, e.logger)
	pending := func(err error) error {
		metrics.RecordUpload("pending")
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).
			Str(log.FieldEvent, "sync.upload_pending").
			Str(log.FieldPath, local).
			Msg("upload left for reconciliation")
		return &PendingError{Path: local, Reason: err.Error(), Err: err}
	}

	if !e.IsRemoteReady() {
		return pending(ErrRemoteNotReady)
	}
	remote, err := e.RemotePath(local)
	if err != nil {
		return pending(err)
	}
	span.SetAttributes(telemetry.UploadAttributes("", remote)...)

	if err := e.copyWithRetry(ctx, local, remote); err != nil {
		return pending(err)
	}

	metrics.RecordUpload("ok")
	logger.Info().
		Str(log.FieldEvent, "sync.uploaded").
		Str(log.FieldPath, local).
		Str(log.FieldRemotePath, remote).
		Msg("artifact uploaded")
	return nil
}

// copyWithRetry tries CopyAttempts times, waiting RetryBackoffBase^(n-1)
// seconds after the n-th failure.
func (e *Engine) copyWithRetry(ctx context.Context, local, remote string) error {
	var err error
	for attempt := 1; attempt <= e.cfg.CopyAttempts; attempt++ {
		if err = e.store.Copy(ctx, local, remote); err == nil {
			return nil
		}
		e.logger.Debug().Err(err).
			Str(log.FieldEvent, "sync.copy_retry").
			Str(log.FieldPath, local).
			Int("attempt", attempt).
			Msg("copy attempt failed")
		if attempt == e.cfg.CopyAttempts {
			break
		}
		if sleepErr := e.sleep(ctx, backoff(e.cfg.RetryBackoffBase, attempt)); sleepErr != nil {
			return fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
	}
	return fmt.Errorf("copy failed after %d attempts: %w", e.cfg.CopyAttempts, err)
}

func backoff(base float64, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(math.Pow(base, float64(attempt-1)) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile compares the date partitions of the last daysBack days (and
// today) against the remote tree and copies every settled artifact that is
// missing remotely or differs in size. Running it twice without local
// changes copies nothing the second time.
func (e *Engine) Reconcile(ctx context.Context, daysBack int) (Report, error) {
	start := e.now()
	ctx, span := telemetry.Tracer("trigcam/replicate").Start(ctx, "sync.reconcile")
	defer span.End()

	var report Report
	defer func() {
		report.Duration = e.now().Sub(start)
		span.SetAttributes(telemetry.ReconcileAttributes(daysBack, report.Scanned, report.Copied, report.Failed)...)
		metrics.RecordReconcileFiles("copied", report.Copied)
		metrics.RecordReconcileFiles("up_to_date", report.UpToDate)
		metrics.RecordReconcileFiles("settling", report.Settling)
		metrics.RecordReconcileFiles("failed", report.Failed)
	}()

	if !e.IsRemoteReady() {
		metrics.RecordReconcileRun("remote_not_ready")
		return report, ErrRemoteNotReady
	}
	report.RemoteReady = true

	today := start.Local()
	for d := 0; d <= daysBack; d++ {
		day := today.AddDate(0, 0, -d).Format(DayLayout)
		if err := e.reconcileDay(ctx, day, &report); err != nil {
			metrics.RecordReconcileRun("error")
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
	}

	metrics.RecordReconcileRun("ok")
	if report.Copied > 0 || report.Failed > 0 {
		e.logger.Info().
			Str(log.FieldEvent, "sync.reconciled").
			Int("scanned", report.Scanned).
			Int("copied", report.Copied).
			Int("failed", report.Failed).
			Int("settling", report.Settling).
			Msg("reconciliation pass finished")
	}
	return report, nil
}

func (e *Engine) reconcileDay(ctx context.Context, day string, report *Report) error {
	dir := filepath.Join(e.cfg.LocalRoot, day)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		report.Failed++
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "sync.scan_failed").
			Str(log.FieldPath, dir).
			Msg("cannot list day directory")
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.isArtifact(entry) {
			continue
		}
		report.Scanned++

		local := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			if !errors.Is(err, fs.ErrNotExist) {
				report.Failed++
			}
			continue
		}
		if e.now().Sub(info.ModTime()) < e.cfg.SettleAge {
			report.Settling++
			continue
		}

		remote := filepath.Join(e.cfg.RemoteRoot, day, entry.Name())
		size, exists, err := e.store.Stat(remote)
		if err != nil {
			report.Failed++
			e.logger.Warn().Err(err).
				Str(log.FieldEvent, "sync.stat_failed").
				Str(log.FieldRemotePath, remote).
				Msg("cannot stat remote artifact")
			continue
		}
		if exists && size == info.Size() {
			report.UpToDate++
			continue
		}

		if err := e.store.Copy(ctx, local, remote); err != nil {
			report.Failed++
			e.logger.Warn().Err(err).
				Str(log.FieldEvent, "sync.copy_failed").
				Str(log.FieldPath, local).
				Msg("reconciliation copy failed")
			continue
		}
		report.Copied++
		e.logger.Info().
			Str(log.FieldEvent, "sync.copied").
			Str(log.FieldPath, local).
			Str(log.FieldRemotePath, remote).
			Bool("replaced", exists).
			Msg("artifact reconciled")
	}
	return nil
}

func (e *Engine) isArtifact(entry fs.DirEntry) bool {
	if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
		return false
	}
	if e.cfg.Extension == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(entry.Name()), "."+strings.TrimPrefix(e.cfg.Extension, "."))
}
