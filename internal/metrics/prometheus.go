package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll tick outcomes
const (
	TickSent      = "sent"
	TickBusy      = "skipped_busy"
	TickNotReady  = "skipped_not_ready"
	TickFailed    = "failed"
	TickMalformed = "malformed"
)

var (
	PollTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_poll_ticks_total",
		Help: "Poll ticks by outcome",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_inference_duration_seconds",
		Help:    "Latency of /predict_fire requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	AlertEpisodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_alert_episodes_total",
		Help: "Number of Idle to Alerting transitions",
	})

	Alerting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_alerting",
		Help: "1 while the alert is active",
	})

	Streaming = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_streaming",
		Help: "1 while capture and polling are active",
	})

	LogFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_log_fetches_total",
		Help: "Detection log page fetches by status",
	}, []string{"status"})

	SnapshotsArchivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_snapshots_archived_total",
		Help: "Fire frames archived to object storage, by status",
	}, []string{"status"})
)
