// Package metrics declares the Prometheus collectors exported by the
// controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamepilot_cycles_total",
			Help: "Total number of controller cycles by outcome",
		},
		[]string{"status"},
	)

	CyclesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamepilot_cycles_dropped_total",
			Help: "Timer ticks dropped because a cycle was still in flight",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamepilot_cycle_duration_seconds",
			Help:    "Wall time of one perception-decision-action cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Model metrics
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamepilot_model_call_duration_seconds",
			Help:    "Latency of model endpoint calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind", "status"},
	)

	// Feedback metrics
	EpisodeReward = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamepilot_episode_reward",
			Help: "Reward accumulated in the current episode",
		},
	)

	DetectorFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamepilot_detector_fires_total",
			Help: "Detector firings by detector id",
		},
		[]string{"detector"},
	)

	DetectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamepilot_detector_failures_total",
			Help: "Detector evaluation failures by detector id",
		},
		[]string{"detector"},
	)

	// Action metrics
	ButtonPresses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamepilot_button_presses_total",
			Help: "Buttons pressed on the device",
		},
		[]string{"button"},
	)
)
