// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
)

// handleLogs streams log lines as server-sent events: the retained backlog
// first, then live entries until the client goes away.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	entries, cancel := log.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if r.URL.Query().Get("backlog") != "false" {
		for _, e := range log.GetRecentLogs() {
			if err := writeEvent(w, e); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.deps.LogHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e log.LogEntry) error {
	line := strings.ReplaceAll(e.Text(), "\n", " ")
	_, err := fmt.Fprintf(w, "data: %s\n\n", line)
	return err
}

const viewerHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>trigcam logs</title>
  <style>
    body { font-family: monospace; background: #111; color: #0f0; margin: 0; padding: 10px; }
    #log { white-space: pre-wrap; font-size: 14px; }
  </style>
</head>
<body>
<h2>trigcam logs</h2>
<div id="log"></div>
<script>
  const logDiv = document.getElementById("log");
  const source = new EventSource("/logs");
  source.onmessage = function(e) {
    logDiv.textContent += e.data + "\n";
    window.scrollTo(0, document.body.scrollHeight);
  };
</script>
</body>
</html>
`

func (s *Server) handleViewer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(viewerHTML))
}
