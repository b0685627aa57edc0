package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan pipeline metrics
var (
	// ScansTotal tracks completed scans by terminal status.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total number of scans by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	// ScanDuration tracks end-to-end scan duration, clone included.
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Scan duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"kind"},
	)

	// ScansInProgress tracks scans currently held by workers.
	ScansInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scans_in_progress",
			Help: "Number of scans currently running",
		},
	)

	// ScanRetriesTotal tracks job re-deliveries.
	ScanRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_retries_total",
			Help: "Total number of scan job retries",
		},
	)
)

// Analyzer metrics
var (
	// AnalyzerRunsTotal tracks per-tool analyzer invocations by outcome.
	AnalyzerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_runs_total",
			Help: "Total analyzer runs by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// AnalyzerDuration tracks per-tool runtime.
	AnalyzerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_duration_seconds",
			Help:    "Analyzer runtime in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180},
		},
		[]string{"tool"},
	)
)

// Finding metrics
var (
	// FindingsTotal tracks persisted findings by severity.
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findings_total",
			Help: "Total persisted findings by severity and type",
		},
		[]string{"severity", "type"},
	)

	// FindingsSuppressed tracks findings dropped by ignore rules.
	FindingsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "findings_suppressed_total",
			Help: "Total findings dropped by suppression rules",
		},
	)
)

// Triage metrics
var (
	// TriageRunsTotal tracks triage outcomes per provider. Mode is
	// "agentic" or "fallback".
	TriageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_runs_total",
			Help: "Total triage runs by provider and mode",
		},
		[]string{"provider", "mode"},
	)

	// TriageIterations tracks agent loop length per run.
	TriageIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_iterations",
			Help:    "Agent loop iterations per triage run",
			Buckets: []float64{1, 2, 4, 8, 12, 16, 20, 25},
		},
	)

	// TriageToolCallsTotal tracks sandboxed tool invocations by name.
	TriageToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_tool_calls_total",
			Help: "Total triage tool calls by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks API requests by normalized route.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency by normalized route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// HTTPRequestsInFlight tracks concurrently served requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Dependency resolution metrics
var (
	// OSVQueriesTotal tracks vulnerability database queries by outcome.
	OSVQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osv_queries_total",
			Help: "Total OSV API queries by outcome",
		},
		[]string{"outcome"},
	)

	// DependenciesExtracted tracks packages parsed from manifests.
	DependenciesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dependencies_extracted_total",
			Help: "Total dependencies extracted by ecosystem",
		},
		[]string{"ecosystem"},
	)
)
