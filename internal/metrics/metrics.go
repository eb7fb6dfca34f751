// Package metrics declares the Prometheus collectors this service
// exposes on /metrics, grounded on the teacher's promauto-based
// package-level collector style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskstream_tasks_submitted_total",
			Help: "Total number of tasks submitted via /chat/async",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskstream_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"status"}, // completed, failed, cancelled
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskstream_task_duration_seconds",
			Help:    "Wall-clock duration from task creation to terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskstream_tasks_pending",
			Help: "Number of tasks waiting in the admission queue",
		},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskstream_tasks_running",
			Help: "Number of tasks currently executing",
		},
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskstream_events_appended_total",
			Help: "Total number of events appended to the event log",
		},
		[]string{"kind"},
	)

	InterruptsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskstream_interrupts_raised_total",
			Help: "Total number of interrupt events raised by the workflow engine",
		},
	)

	InterruptFeedbackLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskstream_interrupt_feedback_latency_seconds",
			Help:    "Time between an interrupt being raised and feedback being submitted",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)

	ReplayConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskstream_replay_connections_active",
			Help: "Number of open SSE replay connections",
		},
	)

	ReplayFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskstream_replay_frames_sent_total",
			Help: "Total number of SSE frames sent to replay clients",
		},
		[]string{"kind"},
	)

	RetentionSweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskstream_retention_sweep_deleted_total",
			Help: "Total number of tasks purged by the retention sweep",
		},
	)

	RetentionSweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskstream_retention_sweep_errors_total",
			Help: "Total number of retention sweep runs that failed",
		},
	)
)

// RecordTaskTerminal records a task reaching a terminal state.
func RecordTaskTerminal(status string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		TaskDuration.Observe(durationSeconds)
	}
}
