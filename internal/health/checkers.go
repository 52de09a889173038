// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WritableDirChecker verifies a directory exists and accepts writes.
type WritableDirChecker struct {
	name string
	path string
}

// NewWritableDirChecker creates a checker for a writable directory.
func NewWritableDirChecker(name, path string) *WritableDirChecker {
	return &WritableDirChecker{name: name, path: path}
}

func (c *WritableDirChecker) Name() string {
	return c.name
}

func (c *WritableDirChecker) Check(_ context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	f, err := os.CreateTemp(path, ".write_test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return nil
}

// FreshnessChecker reports capture as unhealthy when no frame was buffered
// within staleAfter.
type FreshnessChecker struct {
	lastFrame  func() time.Time
	sourceErr  func() error
	staleAfter time.Duration
	now        func() time.Time
}

// NewFreshnessChecker creates a checker over the capture worker's last
// frame time.
func NewFreshnessChecker(lastFrame func() time.Time, staleAfter time.Duration) *FreshnessChecker {
	return &FreshnessChecker{lastFrame: lastFrame, staleAfter: staleAfter, now: time.Now}
}

// WithSourceErr makes the checker report a closed frame source directly
// instead of waiting for the last frame to go stale.
func (c *FreshnessChecker) WithSourceErr(sourceErr func() error) *FreshnessChecker {
	c.sourceErr = sourceErr
	return c
}

func (c *FreshnessChecker) Name() string {
	return "capture"
}

func (c *FreshnessChecker) Check(_ context.Context) CheckResult {
	if c.sourceErr != nil {
		if err := c.sourceErr(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "ingest stopped", Error: err.Error()}
		}
	}
	last := c.lastFrame()
	if last.IsZero() {
		return CheckResult{Status: StatusUnhealthy, Message: "no frame captured yet"}
	}
	age := c.now().Sub(last)
	if age > c.staleAfter {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("last frame %s ago", age.Round(time.Millisecond)),
			Error:   "capture stalled",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "frames flowing"}
}

// RemoteChecker reports the remote store. An unreachable remote only
// degrades the daemon: recordings still land locally.
type RemoteChecker struct {
	ready func() bool
}

// NewRemoteChecker creates a checker over the sync engine's readiness.
func NewRemoteChecker(ready func() bool) *RemoteChecker {
	return &RemoteChecker{ready: ready}
}

func (c *RemoteChecker) Name() string {
	return "remote"
}

func (c *RemoteChecker) Check(_ context.Context) CheckResult {
	if !c.ready() {
		return CheckResult{Status: StatusDegraded, Message: "remote not mounted or not writable; artifacts kept locally"}
	}
	return CheckResult{Status: StatusHealthy, Message: "remote ready"}
}

// LastRunChecker checks the most recent reconciliation pass.
type LastRunChecker struct {
	getLastRun func() (time.Time, string)
	maxAge     time.Duration
}

// NewLastRunChecker creates a checker for the last reconciliation run. A run
// older than maxAge is degraded.
func NewLastRunChecker(getLastRun func() (time.Time, string), maxAge time.Duration) *LastRunChecker {
	return &LastRunChecker{getLastRun: getLastRun, maxAge: maxAge}
}

func (c *LastRunChecker) Name() string {
	return "last_sync_run"
}

func (c *LastRunChecker) Check(_ context.Context) CheckResult {
	lastRun, lastError := c.getLastRun()

	if lastRun.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "no reconciliation run yet"}
	}
	if lastError != "" {
		return CheckResult{Status: StatusDegraded, Error: lastError, Message: "last reconciliation run failed"}
	}
	if c.maxAge > 0 && time.Since(lastRun) > c.maxAge {
		return CheckResult{Status: StatusDegraded, Message: "last reconciliation run is overdue"}
	}
	return CheckResult{Status: StatusHealthy, Message: "last reconciliation run successful"}
}
