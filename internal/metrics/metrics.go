package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts finished job deliveries by queue and outcome (ack, retry, failed)
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Job deliveries handled by worker pools",
		},
		[]string{"queue", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Handler latency per queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Jobs per queue and state",
		},
		[]string{"queue", "state"},
	)

	// SourcesEnqueued counts sources the scheduler found due
	SourcesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_scheduler_sources_enqueued_total",
			Help: "Sources enqueued for collection by the scheduler",
		},
	)

	CollectedMentions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_collected_mentions_total",
			Help: "Raw mention candidates returned by collectors",
		},
		[]string{"platform"},
	)

	CollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_collection_errors_total",
			Help: "Failed collection runs per platform",
		},
		[]string{"platform"},
	)

	// IngestedMentions counts ingestion outcomes: created, duplicate
	IngestedMentions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ingested_mentions_total",
			Help: "Mention ingestion outcomes",
		},
		[]string{"outcome"},
	)

	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_enrichment_fallbacks_total",
			Help: "AI enrichment calls that fell back to defaults",
		},
		[]string{"stage"},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_alerts_triggered_total",
			Help: "Alert triggers by condition",
		},
		[]string{"condition"},
	)
)
