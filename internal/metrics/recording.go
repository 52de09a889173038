// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_triggers_total",
		Help: "Trigger calls by source and outcome",
	}, []string{"source", "outcome"}) // outcome=accepted|buffer_empty|buffer_not_full|decode_failed|capacity

	recordingsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigcam_recordings_in_flight",
		Help: "Recording jobs currently running",
	})

	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_recordings_total",
		Help: "Finished recording jobs by final status",
	}, []string{"outcome"}) // outcome=uploaded|pending_upload|failed

	recordingFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_recording_frames_total",
		Help: "Frames written to artifacts by phase",
	}, []string{"phase"}) // phase=pre|post|skipped

	recordingStallWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigcam_recording_stall_warnings_total",
		Help: "Stall warnings emitted by post-window drain loops",
	})
)

// RecordTrigger counts one trigger call.
func RecordTrigger(source, outcome string) {
	triggersTotal.WithLabelValues(source, outcome).Inc()
}

// RecordingStarted increments the in-flight gauge.
func RecordingStarted() {
	recordingsInFlight.Inc()
}

// RecordingFinished decrements the in-flight gauge and counts the outcome.
func RecordingFinished(outcome string) {
	recordingsInFlight.Dec()
	recordingsTotal.WithLabelValues(outcome).Inc()
}

// RecordRecordingFrames counts frames handled in a phase.
func RecordRecordingFrames(phase string, n int) {
	if n <= 0 {
		return
	}
	recordingFrames.WithLabelValues(phase).Add(float64(n))
}

// RecordingStallWarnings exposes the stall warning counter.
func RecordingStallWarnings() prometheus.Counter {
	return recordingStallWarnings
}

// RecordStallWarning counts one drain stall warning.
func RecordStallWarning() {
	recordingStallWarnings.Inc()
}
