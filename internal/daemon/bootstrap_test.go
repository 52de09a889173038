// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/trigcam/internal/config"
	"github.com/ManuGH/trigcam/internal/health"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/replicate"
)

func testConfig(t *testing.T, feedURL string) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.Capture.Source = config.SourceTestPattern
	cfg.Capture.Width, cfg.Capture.Height = 64, 48
	cfg.Capture.FPSTarget = 10
	cfg.Recording.Pre = time.Second
	cfg.Recording.Post = time.Second
	cfg.Recording.LocalRoot = t.TempDir()
	cfg.Sync.RemoteRoot = t.TempDir()
	cfg.Sync.RequireMount = false
	if feedURL != "" {
		cfg.AutoTrigger.Enabled = true
		cfg.AutoTrigger.FeedURL = feedURL
		cfg.AutoTrigger.FailureCodes = []int{5}
	}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestBuild_WiresEverything(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"state":"success","fail_reason":0}]`))
	}))
	defer feed.Close()

	cfg := testConfig(t, feed.URL)
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() {
		_ = c.Source.Close()
		_ = c.Telemetry.Shutdown(context.Background())
	}()

	require.NotNil(t, c.SyncEngine)
	require.NotNil(t, c.SyncWorker)
	require.NotNil(t, c.Poller)
	assert.Equal(t, 170, c.Buffer.Cap(), "10 fps over pre+post+headroom")

	names := make([]string, 0, 3)
	for _, r := range c.Runners() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"capture", "sync", "autotrigger"}, names)

	next := cfg
	next.AutoTrigger.FailureCodes = []int{5, 9}
	c.ApplyReload(next)
	assert.Equal(t, []int{5, 9}, c.Poller.Status().FailureCodes)
}

func TestBuild_FeaturesDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Sync.Enabled = false

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = c.Source.Close() }()

	assert.Nil(t, c.SyncEngine)
	assert.Nil(t, c.SyncWorker)
	assert.Nil(t, c.Poller)
	assert.Len(t, c.Runners(), 1)

	srv := httptest.NewServer(c.API.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sync")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "metrics served on the API listener without metricsAddr")
}

func TestBuild_TriggerBeforeCapture(t *testing.T) {
	cfg := testConfig(t, "")
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = c.Source.Close() }()

	srv := httptest.NewServer(c.API.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/trigger", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var res recorder.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Accepted)
	assert.Equal(t, "buffer empty", res.Message)
}

func TestBuild_CaptureFillsBuffer(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Sync.Enabled = false
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Capture.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Buffer.Len() >= 3 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, c.Capture.LastFrameAt().IsZero())

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Source.Close())
}

func TestOpenSource_Unknown(t *testing.T) {
	_, err := OpenSource(context.Background(), config.CaptureConfig{Source: "webcam"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capture source")
}

func TestPolicyFrom_CopiesCodes(t *testing.T) {
	codes := []int{5}
	p := PolicyFrom(config.AutoTriggerConfig{FailureCodes: codes, RequireCancelled: true})
	codes[0] = 7
	assert.Equal(t, []int{5}, p.FailureCodes)
	assert.True(t, p.RequireCancelled)
}

func TestApp_SourceClosedKeepsReplicating(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Sync.ScanInterval = 50 * time.Millisecond
	cfg.Sync.SettleAge = 0
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = c.Telemetry.Shutdown(context.Background()) }()

	mgr := &fakeManager{}
	app := NewApp(log.WithComponent("test"), mgr, nil, c.Runners(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Buffer.Len() >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Source.Close())
	require.Eventually(t, func() bool { return c.Capture.SourceErr() != nil }, 2*time.Second, 10*time.Millisecond)

	ready := c.Health.Ready(context.Background())
	assert.False(t, ready.Ready, "a closed source fails readiness")
	assert.Equal(t, health.StatusUnhealthy, ready.Checks["capture"].Status)

	day := time.Now().Format(replicate.DayLayout)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Recording.LocalRoot, day), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Recording.LocalRoot, day, "video_1.mp4"), []byte("clip"), 0o644))

	remote := filepath.Join(cfg.Sync.RemoteRoot, day, "video_1.mp4")
	require.Eventually(t, func() bool {
		_, err := os.Stat(remote)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond, "sync worker keeps reconciling after ingest stops")

	select {
	case err := <-done:
		t.Fatalf("daemon exited after source close: %v", err)
	default:
	}
	assert.Equal(t, int32(0), mgr.shutdown.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}
