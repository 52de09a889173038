// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/trigcam/internal/autotrigger"
	"github.com/ManuGH/trigcam/internal/framebuf"
	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/replicate"
)

var (
	errSyncDisabled        = errors.New("sync disabled")
	errAutoTriggerDisabled = errors.New("auto-trigger disabled")
)

type indexResponse struct {
	Status      string              `json:"status"`
	Version     string              `json:"version"`
	Uptime      int64               `json:"uptime_seconds"`
	CaptureFPS  float64             `json:"capture_fps"`
	LastFrameAt time.Time           `json:"last_frame_at,omitzero"`
	Buffer      *framebuf.Stats     `json:"buffer,omitempty"`
	InFlight    int                 `json:"recordings_in_flight"`
	AutoTrigger *autotrigger.Status `json:"autotrigger,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	resp := indexResponse{
		Status:  "running",
		Version: s.deps.Version,
		Uptime:  int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Capture != nil {
		resp.CaptureFPS = s.deps.Capture.CurrentFPS()
		resp.LastFrameAt = s.deps.Capture.LastFrameAt()
	}
	if s.deps.Buffer != nil {
		stats := s.deps.Buffer.Stats()
		resp.Buffer = &stats
	}
	if s.deps.Recorder != nil {
		resp.InFlight = s.deps.Recorder.InFlight()
	}
	if s.deps.AutoTrigger != nil {
		st := s.deps.AutoTrigger.Status()
		resp.AutoTrigger = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTrigger answers 200 with {success, message} for both accepted and
// rejected triggers; callers branch on success.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Recorder.Trigger(r.Context(), SourceManual)

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.trigger").
		Bool("success", res.Accepted).
		Str(log.FieldJobID, res.JobID).
		Msg(res.Message)

	writeJSON(w, http.StatusOK, res)
}

type recordingsResponse struct {
	InFlight int                `json:"in_flight"`
	Jobs     []recorder.JobInfo `json:"jobs"`
}

func (s *Server) handleRecordings(w http.ResponseWriter, _ *http.Request) {
	jobs := s.deps.Recorder.Jobs()
	if jobs == nil {
		jobs = []recorder.JobInfo{}
	}
	writeJSON(w, http.StatusOK, recordingsResponse{
		InFlight: s.deps.Recorder.InFlight(),
		Jobs:     jobs,
	})
}

type syncResponse struct {
	Report replicate.Report `json:"report"`
	At     time.Time        `json:"at,omitzero"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sync == nil {
		writeServiceUnavailable(w, errSyncDisabled)
		return
	}
	report, at, err := s.deps.Sync.LastRun()
	writeJSON(w, http.StatusOK, newSyncResponse(report, at, err))
}

// handleReconcile runs a pass synchronously. A remote that is not ready is
// reported in the body, not as an HTTP error.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeServiceUnavailable(w, errSyncDisabled)
		return
	}
	report, err := s.deps.Sync.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, newSyncResponse(report, time.Now(), err))
}

func newSyncResponse(report replicate.Report, at time.Time, err error) syncResponse {
	resp := syncResponse{Report: report, At: at}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleAutoTrigger(w http.ResponseWriter, _ *http.Request) {
	if s.deps.AutoTrigger == nil {
		writeServiceUnavailable(w, errAutoTriggerDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.AutoTrigger.Status())
}
