package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Render job metrics
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ActiveJobs    prometheus.Gauge
	JobErrors     *prometheus.CounterVec
	BatchesTotal  *prometheus.CounterVec

	// FFmpeg operation metrics
	FFmpegOperationsTotal *prometheus.CounterVec
	FFmpegProcessingTime  *prometheus.HistogramVec

	// Asset metrics
	AssetDownloadsTotal *prometheus.CounterVec
	AssetDownloadBytes  prometheus.Counter

	// Workspace metrics
	CleanupWarnings prometheus.Counter
	SweptWorkspaces prometheus.Counter

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_jobs_total",
				Help: "Total number of render jobs by terminal status",
			},
			[]string{"status", "platform"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "render_job_duration_seconds",
				Help:    "Render job duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"platform", "status"},
		),
		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "render_active_jobs",
				Help: "Number of render jobs currently running",
			},
		),
		JobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_job_errors_total",
				Help: "Total number of failed render jobs by error kind",
			},
			[]string{"kind"},
		),
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_batches_total",
				Help: "Total number of batches run",
			},
			[]string{"outcome"},
		),

		FFmpegOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffmpeg_operations_total",
				Help: "Total number of FFmpeg operations",
			},
			[]string{"operation", "status"},
		),
		FFmpegProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ffmpeg_processing_time_seconds",
				Help:    "FFmpeg processing time in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"operation"},
		),

		AssetDownloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asset_downloads_total",
				Help: "Total number of asset fetches",
			},
			[]string{"scheme", "status"},
		),
		AssetDownloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "asset_download_bytes_total",
				Help: "Total bytes fetched into workspaces",
			},
		),

		CleanupWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workspace_cleanup_warnings_total",
				Help: "Working directories that could not be removed",
			},
		),
		SweptWorkspaces: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workspace_swept_total",
				Help: "Stale working directories removed by the sweeper",
			},
		),

		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
	}

	return m
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordJobStarted records job start
func (m *Metrics) RecordJobStarted() {
	m.ActiveJobs.Inc()
}

// RecordJobFinished records a terminal job
func (m *Metrics) RecordJobFinished(platform, status, errorKind string, duration time.Duration) {
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(status, platform).Inc()
	m.JobDuration.WithLabelValues(platform, status).Observe(duration.Seconds())
	if errorKind != "" {
		m.JobErrors.WithLabelValues(errorKind).Inc()
	}
}

// RecordBatch records a finished batch
func (m *Metrics) RecordBatch(failed int) {
	outcome := "clean"
	if failed > 0 {
		outcome = "partial"
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordFFmpegOperation records FFmpeg operation
func (m *Metrics) RecordFFmpegOperation(operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	m.FFmpegOperationsTotal.WithLabelValues(operation, status).Inc()
	m.FFmpegProcessingTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAssetDownload records an asset fetch
func (m *Metrics) RecordAssetDownload(scheme string, success bool, bytes int64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.AssetDownloadsTotal.WithLabelValues(scheme, status).Inc()
	if bytes > 0 {
		m.AssetDownloadBytes.Add(float64(bytes))
	}
}

// RecordCleanupWarning records a failed workspace removal
func (m *Metrics) RecordCleanupWarning() {
	m.CleanupWarnings.Inc()
}

// RecordSwept records removed stale workspaces
func (m *Metrics) RecordSwept(n int) {
	m.SweptWorkspaces.Add(float64(n))
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
