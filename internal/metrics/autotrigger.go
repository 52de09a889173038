// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	autoTriggerArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigcam_autotrigger_armed",
		Help: "Whether the auto-trigger is armed (1) or disarmed (0)",
	})

	autoTriggerPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigcam_autotrigger_polls_total",
		Help: "Status feed polls by outcome",
	}, []string{"outcome"}) // outcome=noop|rearmed|fired|busy|error
)

// SetAutoTriggerArmed publishes the arm state.
func SetAutoTriggerArmed(armed bool) {
	if armed {
		autoTriggerArmed.Set(1)
		return
	}
	autoTriggerArmed.Set(0)
}

// RecordAutoTriggerPoll counts one poll cycle.
func RecordAutoTriggerPoll(outcome string) {
	autoTriggerPolls.WithLabelValues(outcome).Inc()
}
