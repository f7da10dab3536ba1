package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Input guard metrics
	InputValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_input_validations_total",
			Help: "Total number of input validation checks",
		},
		[]string{"result"},
	)

	InjectionDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_injection_detections_total",
			Help: "Total number of injection attempts detected, by pipeline stage",
		},
		[]string{"stage"},
	)

	// Classifier client metrics
	ClassifierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_classifier_requests_total",
			Help: "Total number of safety classifier requests",
		},
		[]string{"status"},
	)

	ClassifierRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardrail_classifier_request_duration_seconds",
			Help:    "Safety classifier request latencies in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	// Output guard metrics
	OutputRedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_output_redactions_total",
			Help: "Total number of redacted substrings, by rule",
		},
		[]string{"rule"},
	)

	LeakScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_leak_scans_total",
			Help: "Total number of bulk leak scans",
		},
		[]string{"result"},
	)

	// Rate limiter metrics
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_rate_limit_checks_total",
			Help: "Total number of rate limit checks",
		},
		[]string{"action", "result"},
	)

	RateLimitViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_rate_limit_violations_total",
			Help: "Total number of quota violations that started a cooldown",
		},
		[]string{"action"},
	)

	RateLimitTrackedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardrail_rate_limit_tracked_entries",
			Help: "Number of (user, action) histories currently tracked",
		},
	)

	// Permission enforcer metrics
	PermissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"action", "result"},
	)

	PermissionCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_permission_cache_hits_total",
			Help: "Total number of permission cache hits",
		},
	)

	PermissionCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_permission_cache_misses_total",
			Help: "Total number of permission cache misses",
		},
	)

	PermissionGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_permission_grants_total",
			Help: "Total number of permission grant attempts",
		},
		[]string{"status"},
	)

	// Parameter validator metrics
	ParamValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_param_validations_total",
			Help: "Total number of parameter validation checks",
		},
		[]string{"action", "result"},
	)

	// Audit metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"event_type", "status"},
	)

	AuditEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_audit_events_dropped_total",
			Help: "Total number of audit events dropped due to a full queue",
		},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardrail_audit_queue_depth",
			Help: "Number of audit events waiting to be written",
		},
	)

	// Graph store metrics
	GraphOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_graph_operations_total",
			Help: "Total number of graph store operations",
		},
		[]string{"operation", "status"},
	)

	GraphOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardrail_graph_operation_duration_seconds",
			Help:    "Graph store operation latencies in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"operation"},
	)

	// Mediator metrics
	ToolAccessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_tool_access_checks_total",
			Help: "Total number of tool access checks, by failing stage or allowed",
		},
		[]string{"action", "stage"},
	)

	ToolCallsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_tool_calls_recorded_total",
			Help: "Total number of completed tool calls recorded",
		},
		[]string{"action"},
	)
)
