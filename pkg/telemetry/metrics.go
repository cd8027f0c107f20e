// Package telemetry holds the Prometheus collectors shared by the pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds this module's collectors, separate from the default
// global registry so tests can construct isolated instances.
var Registry = prometheus.NewRegistry()

var (
	// DocsProcessed counts documents consumed by the hot path.
	DocsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "hotpath",
		Name:      "documents_processed_total",
		Help:      "Total number of documents consumed by the hot path.",
	})

	// WarmPassDuration observes the wall-clock duration of a warm-compute pass.
	WarmPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "warmpath",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a warm-compute pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// RuleEvaluations counts rule evaluations grouped by rule id and outcome.
	RuleEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "rules",
		Name:      "evaluations_total",
		Help:      "Total rule evaluations grouped by rule id and outcome.",
	}, []string{"rule_id", "outcome"})

	// RuleEvaluationDuration observes the duration of a single rule evaluation.
	RuleEvaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "rules",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a single rule evaluation.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"rule_id"})

	// NotificationsSent counts notification deliveries grouped by channel and status.
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Total notification deliveries grouped by channel type and status.",
	}, []string{"channel", "status"})

	// InsightQueueLength reports the current size of the knowledge-state insight queue.
	InsightQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "knowledge_pipeline",
		Subsystem: "knowledge",
		Name:      "insight_queue_length",
		Help:      "Current number of queued insights.",
	})
)

func init() {
	Registry.MustRegister(
		DocsProcessed,
		WarmPassDuration,
		RuleEvaluations,
		RuleEvaluationDuration,
		NotificationsSent,
		InsightQueueLength,
	)
}
