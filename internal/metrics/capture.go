// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bufferFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigcam_buffer_frames",
		Help: "Number of frames currently resident in the ring buffer",
	})

	bufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigcam_buffer_evictions_total",
		Help: "Total number of frames evicted from the ring buffer",
	})

	framesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigcam_frames_ingested_total",
		Help: "Total number of frames appended to the ring buffer",
	})

	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_ingest_errors_total",
		Help: "Frames skipped by the ingest worker by stage",
	}, []string{"stage"}) // stage=read|resize|encode

	captureFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigcam_capture_fps",
		Help: "Most recently measured capture frame rate",
	})
)

// Ingest stages.
const (
	StageRead   = "read"
	StageEncode = "encode"
)

// RecordFrameIngested counts one appended frame and the resulting buffer state.
func RecordFrameIngested(resident int, evicted bool) {
	framesIngested.Inc()
	bufferFrames.Set(float64(resident))
	if evicted {
		bufferEvictions.Inc()
	}
}

// RecordIngestError counts a skipped frame.
func RecordIngestError(stage string) {
	ingestErrors.WithLabelValues(stage).Inc()
}

// SetCaptureFPS publishes the measured capture rate.
func SetCaptureFPS(fps float64) {
	captureFPS.Set(fps)
}
