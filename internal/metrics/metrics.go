package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the assistant pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	StageDurationMs     *prometheus.HistogramVec
	CacheLookupTotal    *prometheus.CounterVec
	CacheEvictionTotal  *prometheus.CounterVec
	ModelCallTotal      *prometheus.CounterVec
	ClassifierFallbacks prometheus.Counter
	QuerySourceTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kardex_pipeline_requests_total",
			Help: "Messages processed by the pipeline, by resulting intent.",
		}, []string{"intent"}),

		StageDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kardex_pipeline_stage_duration_ms",
			Help:    "Duration of each pipeline stage in milliseconds.",
			Buckets: []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),

		CacheLookupTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kardex_cache_lookups_total",
			Help: "Cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),

		CacheEvictionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kardex_cache_evictions_total",
			Help: "Entries removed from the cache, by namespace and reason.",
		}, []string{"namespace", "reason"}),

		ModelCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kardex_model_calls_total",
			Help: "Model completion calls by task and outcome.",
		}, []string{"task", "outcome"}),

		ClassifierFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "kardex_classifier_fallback_total",
			Help: "Messages classified by the rule-based fallback.",
		}),

		QuerySourceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kardex_query_source_total",
			Help: "Query executions by query name and the source that answered.",
		}, []string{"query", "source"}),
	}
}

// RecordRequest counts a finished pipeline run
func (m *Metrics) RecordRequest(intent string) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(intent).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationMs.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
}

// RecordCacheLookup counts a hit or miss
func (m *Metrics) RecordCacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupTotal.WithLabelValues(namespace, result).Inc()
}

// RecordEviction counts entries dropped for reason (capacity, expired, tag)
func (m *Metrics) RecordEviction(namespace, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionTotal.WithLabelValues(namespace, reason).Add(float64(n))
}

// RecordModelCall counts a completion outcome (ok, error, fallback_ok, fallback_error)
func (m *Metrics) RecordModelCall(task, outcome string) {
	if m == nil {
		return
	}
	m.ModelCallTotal.WithLabelValues(task, outcome).Inc()
}

// RecordClassifierFallback counts a rule-based classification
func (m *Metrics) RecordClassifierFallback() {
	if m == nil {
		return
	}
	m.ClassifierFallbacks.Inc()
}

// RecordQuerySource counts which source answered a query (cache, storage, api, session, none)
func (m *Metrics) RecordQuerySource(query, source string) {
	if m == nil {
		return
	}
	m.QuerySourceTotal.WithLabelValues(query, source).Inc()
}
