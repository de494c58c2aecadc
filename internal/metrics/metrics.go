package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_sessions_created_total",
			Help: "Total number of research sessions created",
		},
		[]string{"mode"},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_sessions_finished_total",
			Help: "Total number of research sessions reaching a terminal state",
		},
		[]string{"mode", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probeai_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "mode"},
	)

	IllegalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_illegal_transitions_total",
			Help: "Rejected state machine transitions",
		},
		[]string{"from", "to"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_search_requests_total",
			Help: "Search provider calls by outcome",
		},
		[]string{"provider", "result"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probeai_search_latency_seconds",
			Help:    "Search provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "probeai_search_cache_hits_total",
			Help: "Search responses served from cache",
		},
	)

	ResultsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_results_dropped_total",
			Help: "Search results discarded during merge",
		},
		[]string{"reason"},
	)

	ResultsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "probeai_results_truncated_total",
			Help: "Search results whose content was truncated",
		},
	)

	// Generator metrics
	GeneratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_generator_calls_total",
			Help: "Generative model calls by provider, caller and outcome",
		},
		[]string{"provider", "caller", "result"},
	)

	GeneratorFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_generator_fallbacks_total",
			Help: "Times a stage substituted its deterministic default",
		},
		[]string{"caller"},
	)

	VisualizationsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_visualizations_total",
			Help: "Visualizations produced by final type and gate",
		},
		[]string{"type", "gate"},
	)

	// Store metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_store_operations_total",
			Help: "Session store operations by backend, op and outcome",
		},
		[]string{"backend", "op", "result"},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "probeai_session_cache_hits_total",
			Help: "Session local cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "probeai_session_cache_misses_total",
			Help: "Session local cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "probeai_session_cache_size",
			Help: "Number of sessions in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "probeai_session_cache_evictions_total",
			Help: "Sessions evicted from the local cache",
		},
	)

	MirrorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_mirror_writes_total",
			Help: "Secondary store sync writes by outcome",
		},
		[]string{"result"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probeai_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// ObserveStage records the duration of a pipeline stage started at start.
func ObserveStage(stage, mode string, start time.Time) {
	StageDuration.WithLabelValues(stage, mode).Observe(time.Since(start).Seconds())
}

// Outcome maps an error to the "result" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
