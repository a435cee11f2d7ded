// Package metrics holds the Prometheus collectors for the pipeline. They are
// registered on the default registry and served by the API on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts processed frames by result: analyzed, no_face,
	// multi_face, rejected.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_frames_total",
			Help: "Frames processed, by result",
		},
		[]string{"result"},
	)

	FrameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faceguard_frame_duration_seconds",
			Help:    "Time spent analyzing one frame",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	SuspectFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceguard_suspect_frames_total",
			Help: "Frames whose composite deepfake score exceeded the frame threshold",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faceguard_active_sessions",
			Help: "Sessions currently ACTIVE",
		},
	)

	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_sessions_ended_total",
			Help: "Sessions that reached a terminal status",
		},
		[]string{"status"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_verdicts_total",
			Help: "Completed sessions by verdict",
		},
		[]string{"verdict"},
	)

	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_challenges_total",
			Help: "Concluded challenges by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_alerts_total",
			Help: "Alerts raised, by type and severity",
		},
		[]string{"type", "severity"},
	)

	AlertsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceguard_alerts_dropped_total",
			Help: "Alerts dropped because the dispatch queue was full",
		},
	)

	NotifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_notify_failures_total",
			Help: "Failed notification deliveries by notifier",
		},
		[]string{"notifier"},
	)

	StoreFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_store_failures_total",
			Help: "Failed writes to the alert/verdict store",
		},
		[]string{"kind"},
	)

	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceguard_ingest_messages_total",
			Help: "Frame messages read from the broker, by result",
		},
		[]string{"result"},
	)
)

func ObserveFrame(result string, took time.Duration, suspect bool) {
	FramesTotal.WithLabelValues(result).Inc()
	FrameDuration.Observe(took.Seconds())
	if suspect {
		SuspectFramesTotal.Inc()
	}
}
