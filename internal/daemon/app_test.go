// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/log"
)

// fakeManager blocks in Start until ctx is done.
type fakeManager struct {
	started  atomic.Bool
	shutdown atomic.Int32
	startErr error
}

func (f *fakeManager) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error {
	f.shutdown.Add(1)
	return nil
}

func (f *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func TestApp_MissingManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_RunsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var ran atomic.Int32
	runner := Runner{Name: "worker", Run: func(ctx context.Context) error {
		ran.Add(1)
		<-ctx.Done()
		return nil
	}}
	mgr := &fakeManager{}
	app := NewApp(log.WithComponent("test"), mgr, nil, []Runner{runner, runner}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return ran.Load() == 2 && mgr.started.Load() }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_FailingRunnerStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("source closed")
	failing := Runner{Name: "capture", Run: func(context.Context) error { return boom }}
	blocking := Runner{Name: "sync", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	app := NewApp(log.WithComponent("test"), &fakeManager{}, nil, []Runner{blocking, failing}, nil)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "capture:")
}

func TestApp_ManagerFailureShutsDown(t *testing.T) {
	mgr := &fakeManager{startErr: errors.New("listen failed")}
	app := NewApp(log.WithComponent("test"), mgr, nil, nil, nil)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), mgr.shutdown.Load())
}

func TestApp_ReloadListener(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig := func(codes string) {
		body := "capture:\n  source: testpattern\nrecording:\n  localRoot: " + dir +
			"\nsync:\n  enabled: false\nautoTrigger:\n  failureCodes: " + codes + "\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	writeConfig("[5]")

	loader := config.NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(initial, loader)

	applied := make(chan config.AppConfig, 4)
	app := NewApp(log.WithComponent("test"), &fakeManager{}, holder, nil, func(cfg config.AppConfig) {
		applied <- cfg
	})
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// the listener is registered once Run starts; reload until it fires
	writeConfig("[5, 7]")
	var got config.AppConfig
	require.Eventually(t, func() bool {
		_ = holder.Reload(ctx)
		select {
		case got = <-applied:
			return true
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, []int{5, 7}, got.AutoTrigger.FailureCodes)

	cancel()
	require.NoError(t, <-done)
}
