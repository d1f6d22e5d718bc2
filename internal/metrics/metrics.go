package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_jobd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_jobd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Job metrics
var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobd_jobs_submitted_total",
			Help: "Total number of accepted job submissions",
		},
		[]string{"operation"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobd_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"operation", "state"},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_jobd_jobs_running",
			Help: "Number of jobs currently holding an execution slot",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_jobd_jobs_queued",
			Help: "Number of jobs waiting for an execution slot",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_jobd_job_duration_seconds",
			Help:    "Wall-clock duration of job execution in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	JobsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_jobd_jobs_rejected_total",
			Help: "Total number of submissions rejected by the admission limit",
		},
	)

	JobsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_jobd_jobs_evicted_total",
			Help: "Total number of terminal jobs evicted after the retention window",
		},
	)
)

// Process runner metrics
var (
	RunnerInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobd_runner_invocations_total",
			Help: "Total number of child process invocations",
		},
		[]string{"binary", "status"},
	)

	RunnerTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_jobd_runner_timeouts_total",
			Help: "Total number of child processes terminated by deadline expiry",
		},
	)

	RunnerBytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_jobd_runner_output_bytes_total",
			Help: "Total bytes produced by child processes",
		},
	)
)

// Ledger metrics
var (
	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobd_ledger_writes_total",
			Help: "Total number of job history writes",
		},
		[]string{"status"},
	)
)

// Event hub metrics
var (
	EventClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_jobd_event_clients_connected",
			Help: "Number of connected job event subscribers",
		},
	)
)
