package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload / intake metrics
var (
	// UploadsTotal tracks upload attempts by result (stored/rejected/error)
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_total",
			Help: "Total upload attempts by result (stored/rejected/error)",
		},
		[]string{"result"},
	)

	// UploadRejectionsTotal tracks intake rejections by reason
	UploadRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_rejections_total",
			Help: "Upload rejections by reason (unsafe_name/bad_extension/oversized/bad_signature)",
		},
		[]string{"reason"},
	)

	// UploadBytesTotal tracks total bytes accepted into session storage
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_bytes_total",
			Help: "Total bytes accepted into session storage",
		},
	)

	// RateLimitDenialsTotal tracks sliding-window denials
	RateLimitDenialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total upload requests denied by the per-session sliding window",
		},
	)
)

// Job metrics
var (
	// JobTransitionsTotal tracks job status transitions by stage and new status
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Job status transitions by stage and new status",
		},
		[]string{"stage", "status"},
	)

	// JobAdmissionConflictsTotal tracks admissions rejected by the concurrency gate
	JobAdmissionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "job_admission_conflicts_total",
			Help: "Stage triggers rejected because the session already had an active job",
		},
	)

	// DispatchDurationSeconds tracks inference dispatch duration by stage
	DispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Inference dispatch duration in seconds by stage",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 720},
		},
		[]string{"stage"},
	)

	// DispatchTimeoutsTotal tracks dispatches forced to failed by limit
	DispatchTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_timeouts_total",
			Help: "Dispatches that hit a limit by kind (soft/hard)",
		},
		[]string{"kind"},
	)

	// InferenceBreakerState reports the invoker circuit breaker state
	// (0=closed, 1=half-open, 2=open)
	InferenceBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inference_breaker_state",
			Help: "Inference circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// InferenceBreakerRejectionsTotal tracks invocations refused while the breaker is open
	InferenceBreakerRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_breaker_rejections_total",
			Help: "Invocations refused because the inference circuit breaker was open",
		},
	)
)

// Cleanup / disk metrics
var (
	// CleanupSweepsTotal tracks completed sweep cycles by mode (periodic/emergency)
	CleanupSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_sweeps_total",
			Help: "Completed cleanup sweep cycles by mode (periodic/emergency)",
		},
		[]string{"mode"},
	)

	// CleanupSweepDurationSeconds tracks sweep cycle duration
	CleanupSweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanup_sweep_duration_seconds",
			Help:    "Cleanup sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	// SessionsReclaimedTotal tracks sessions removed by cleanup by reason
	SessionsReclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_reclaimed_total",
			Help: "Sessions removed by cleanup by reason (expired/disk_pressure/client_request)",
		},
		[]string{"reason"},
	)

	// SessionsSkippedTotal tracks sessions cleanup declined to remove
	SessionsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_sessions_skipped_total",
			Help: "Sessions cleanup skipped by reason (running_job/error)",
		},
		[]string{"reason"},
	)

	// BytesReclaimedTotal tracks bytes reclaimed by secure deletion
	BytesReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_bytes_reclaimed_total",
			Help: "Total bytes reclaimed by artifact deletion",
		},
	)

	// DiskFreeBytes reports free bytes under the artifact root
	DiskFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "disk_free_bytes",
			Help: "Free bytes on the filesystem holding the artifact root",
		},
	)

	// DiskPressureTier reports the current pressure tier (0=ok, 1=warning, 2=critical)
	DiskPressureTier = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "disk_pressure_tier",
			Help: "Current disk pressure tier (0=ok, 1=warning, 2=critical)",
		},
	)
)

// Error metrics
var (
	// HTTPErrorsTotal tracks HTTP errors by taxonomy type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error type",
		},
		[]string{"type"},
	)
)

// HTTP request metrics (http_requests_total, http_request_duration_seconds)
// are provided by the echoprometheus middleware.
