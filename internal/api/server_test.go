// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/trigcam/internal/autotrigger"
	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/health"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/replicate"
)

type fakeRecorder struct {
	mu      sync.Mutex
	result  recorder.Result
	sources []string
	jobs    []recorder.JobInfo
}

func (f *fakeRecorder) Trigger(_ context.Context, source string) recorder.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return f.result
}

func (f *fakeRecorder) InFlight() int { return len(f.jobs) }

func (f *fakeRecorder) Jobs() []recorder.JobInfo { return f.jobs }

type fakeSync struct {
	report replicate.Report
	err    error
	runs   int
}

func (f *fakeSync) RunOnce(context.Context) (replicate.Report, error) {
	f.runs++
	return f.report, f.err
}

func (f *fakeSync) LastRun() (replicate.Report, time.Time, error) {
	return f.report, time.Unix(1700000000, 0), f.err
}

type fakeAuto struct{ status autotrigger.Status }

func (f fakeAuto) Status() autotrigger.Status { return f.status }

type fakeCapture struct{}

func (fakeCapture) CurrentFPS() float64    { return 29.5 }
func (fakeCapture) LastFrameAt() time.Time { return time.Unix(1700000000, 0) }

type fakeBuffer struct{}

func (fakeBuffer) Stats() framebuf.Stats { return framebuf.Stats{Len: 10, Cap: 20, Appended: 12, Evicted: 2} }

func newTestServer(t *testing.T, mutate func(*Deps)) (*Server, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{result: recorder.Result{Accepted: true, Message: "recording started", JobID: "job-1"}}
	deps := Deps{
		Version:  "v1.0.0",
		Recorder: rec,
		Capture:  fakeCapture{},
		Buffer:   fakeBuffer{},
		Health:   health.NewManager("v1.0.0"),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps), rec
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var resp indexResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.InDelta(t, 29.5, resp.CaptureFPS, 1e-9)
	require.NotNil(t, resp.Buffer)
	assert.Equal(t, 10, resp.Buffer.Len)
	assert.Nil(t, resp.AutoTrigger)
}

func TestTrigger_GetAndPost(t *testing.T) {
	s, rec := newTestServer(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := do(t, s, method, "/trigger")
		require.Equal(t, http.StatusOK, w.Code, method)
		assert.JSONEq(t, `{"success":true,"message":"recording started","job_id":"job-1"}`, w.Body.String())
	}
	assert.Equal(t, []string{SourceManual, SourceManual}, rec.sources)
}

func TestTrigger_RejectedStill200(t *testing.T) {
	s, rec := newTestServer(t, nil)
	rec.result = recorder.Result{Message: "buffer not full yet"}

	w := do(t, s, http.MethodGet, "/trigger")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"buffer not full yet"}`, w.Body.String())
}

func TestTrigger_RateLimited(t *testing.T) {
	s, rec := newTestServer(t, func(d *Deps) { d.TriggerRateLimit = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s, http.MethodPost, "/trigger").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Len(t, rec.sources, 2)

	// other routes are not limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/").Code)
}

func TestRecordings(t *testing.T) {
	s, rec := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/recordings")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"in_flight":0,"jobs":[]}`, w.Body.String())

	rec.jobs = []recorder.JobInfo{{ID: "a", Source: "auto", Status: recorder.StatusRecording}}
	w = do(t, s, http.MethodGet, "/api/recordings")
	var resp recordingsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.InFlight)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "a", resp.Jobs[0].ID)
}

func TestReconcile(t *testing.T) {
	fs := &fakeSync{report: replicate.Report{RemoteReady: true, Scanned: 3, Copied: 1}}
	s, _ := newTestServer(t, func(d *Deps) { d.Sync = fs })

	w := do(t, s, http.MethodPost, "/api/sync/reconcile")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fs.runs)

	var resp syncResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Report.Scanned)
	assert.Equal(t, 1, resp.Report.Copied)
	assert.Empty(t, resp.Error)

	fs.err = replicate.ErrRemoteNotReady
	w = do(t, s, http.MethodPost, "/api/sync/reconcile")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "remote not ready", resp.Error)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/sync/reconcile").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/sync").Code)
}

func TestDisabledFeatures(t *testing.T) {
	s, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodPost, "/api/sync/reconcile").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/sync").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/autotrigger").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics").Code)
}

func TestAutoTriggerStatus(t *testing.T) {
	st := autotrigger.Status{Armed: true, LastRecordID: 42, FailureCodes: []int{5}}
	s, _ := newTestServer(t, func(d *Deps) { d.AutoTrigger = fakeAuto{status: st} })

	w := do(t, s, http.MethodGet, "/api/autotrigger")
	require.Equal(t, http.StatusOK, w.Code)

	var got autotrigger.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Armed)
	assert.Equal(t, 42, got.LastRecordID)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) { d.ServeMetrics = true })

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz").Code)

	w := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trigcam_http_requests_in_flight")
}

func TestMetricsHandler(t *testing.T) {
	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestViewer(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/viewer")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `new EventSource("/logs")`)
}

func TestLogs_StreamsLiveEntries(t *testing.T) {
	log.Configure(log.Config{Output: io.Discard})
	s, _ := newTestServer(t, func(d *Deps) { d.LogHeartbeat = 50 * time.Millisecond })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs?backlog=false", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		logger := log.WithComponent("sse-test")
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				logger.Info().Str(log.FieldEvent, "test.line").Msg("hello viewer")
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "hello viewer") {
			assert.Contains(t, line, "INFO sse-test: hello viewer")
			found = true
			break
		}
	}
	if !found && !errors.Is(scanner.Err(), context.DeadlineExceeded) {
		require.NoError(t, scanner.Err())
	}
	assert.True(t, found, "expected live log line in stream")
}
