// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/ManuGH/trigcam/internal/log"
)

// AccessLog logs one line per request. Probe and scrape endpoints log at
// debug so they stay out of the live log feed.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			logger := log.WithComponentFromContext(r.Context(), "api")
			ev := logger.Info()
			switch {
			case status >= http.StatusInternalServerError:
				ev = logger.Error()
			case isQuietPath(r.URL.Path):
				ev = logger.Debug()
			}
			ev.Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, routePattern(r)).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request served")
		})
		return access(next)
	}
}

func isQuietPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}
