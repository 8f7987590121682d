package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for build tree walks.
type Metrics struct {
	config MetricsConfig

	// Walk metrics
	walksStarted   prometheus.Counter
	walksCompleted *prometheus.CounterVec
	walkDuration   *prometheus.HistogramVec

	// Build file metrics
	filesRead        *prometheus.CounterVec
	fileReadDuration prometheus.Histogram
	duplicateSkips   prometheus.Counter
	contextsYielded  *prometheus.CounterVec

	// Sandbox metrics
	warnings      prometheus.Counter
	templateCalls *prometheus.CounterVec

	// Diagnostics
	diagnostics *prometheus.CounterVec

	activeWalks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		walksStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "walks_started_total",
				Help:      "Total number of tree walks started",
			},
		),
		walksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "walks_completed_total",
				Help:      "Total number of tree walks completed",
			},
			[]string{"status"},
		),
		walkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "walk_duration_seconds",
				Help:      "Duration of tree walks in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		filesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_files_read_total",
				Help:      "Total number of build files evaluated",
			},
			[]string{"status"},
		),
		fileReadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_file_read_duration_seconds",
				Help:      "Time spent evaluating a single build file",
				Buckets:   buckets,
			},
		),
		duplicateSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_reads_skipped_total",
				Help:      "Build files skipped because they were already read",
			},
		),
		contextsYielded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contexts_yielded_total",
				Help:      "Total number of contexts produced by walks",
			},
			[]string{"kind"},
		),

		warnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_file_warnings_total",
				Help:      "Warnings emitted by build files",
			},
		),
		templateCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_calls_total",
				Help:      "Template invocations by template name",
			},
			[]string{"template"},
		),

		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Build reader errors by kind",
			},
			[]string{"kind"},
		),

		activeWalks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_walks",
				Help:      "Current number of tree walks in progress",
			},
		),
	}

	registry.MustRegister(
		m.walksStarted,
		m.walksCompleted,
		m.walkDuration,
		m.filesRead,
		m.fileReadDuration,
		m.duplicateSkips,
		m.contextsYielded,
		m.warnings,
		m.templateCalls,
		m.diagnostics,
		m.activeWalks,
	)

	return m, nil
}

// Walk Metrics

// RecordWalkStarted increments the counter for started walks.
func (m *Metrics) RecordWalkStarted() {
	if m == nil || m.walksStarted == nil {
		return
	}
	m.walksStarted.Inc()
	m.activeWalks.Inc()
}

// RecordWalkCompleted records a finished walk with its status and duration.
func (m *Metrics) RecordWalkCompleted(status string, duration time.Duration) {
	if m == nil || m.walksCompleted == nil {
		return
	}
	m.walksCompleted.WithLabelValues(status).Inc()
	m.walkDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeWalks.Dec()
}

// Build File Metrics

// RecordFileRead records the evaluation of one build file.
func (m *Metrics) RecordFileRead(duration time.Duration, err error) {
	if m == nil || m.filesRead == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.filesRead.WithLabelValues(status).Inc()
	m.fileReadDuration.Observe(duration.Seconds())
}

// RecordDuplicateSkip counts a build file that was not read twice.
func (m *Metrics) RecordDuplicateSkip() {
	if m == nil || m.duplicateSkips == nil {
		return
	}
	m.duplicateSkips.Inc()
}

// RecordContextYielded counts a context handed to the caller of a walk.
func (m *Metrics) RecordContextYielded(kind string) {
	if m == nil || m.contextsYielded == nil {
		return
	}
	m.contextsYielded.WithLabelValues(kind).Inc()
}

// Sandbox Metrics

// RecordWarning counts a warning() call made by a build file.
func (m *Metrics) RecordWarning() {
	if m == nil || m.warnings == nil {
		return
	}
	m.warnings.Inc()
}

// RecordTemplateCall counts an invocation of the named template.
func (m *Metrics) RecordTemplateCall(name string) {
	if m == nil || m.templateCalls == nil {
		return
	}
	m.templateCalls.WithLabelValues(name).Inc()
}

// RecordDiagnostic counts a build reader error of the given kind.
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil || m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues(kind).Inc()
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics. Serve
// errors other than a clean shutdown are sent on the returned channel.
func (m *Metrics) StartMetricsServer() (*http.Server, <-chan error) {
	errc := make(chan error, 1)
	if !m.config.Enabled {
		close(errc)
		return nil, errc
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(errc)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	return server, errc
}
