// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_uploads_total",
		Help: "Immediate upload attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|pending

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_reconcile_runs_total",
		Help: "Reconciliation passes by outcome",
	}, []string{"outcome"}) // outcome=ok|remote_not_ready|error

	reconcileFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_reconcile_files_total",
		Help: "Files seen by reconciliation by action",
	}, []string{"action"}) // action=copied|up_to_date|settling|failed

	remoteReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigcam_remote_ready",
		Help: "Whether the remote store was ready at the last check (1) or not (0)",
	})
)

// RecordUpload counts one immediate upload.
func RecordUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcileRun counts one reconciliation pass.
func RecordReconcileRun(outcome string) {
	reconcileRuns.WithLabelValues(outcome).Inc()
}

// RecordReconcileFiles counts n files for an action.
func RecordReconcileFiles(action string, n int) {
	if n <= 0 {
		return
	}
	reconcileFiles.WithLabelValues(action).Add(float64(n))
}

// SetRemoteReady publishes the remote readiness.
func SetRemoteReady(ready bool) {
	if ready {
		remoteReady.Set(1)
		return
	}
	remoteReady.Set(0)
}
