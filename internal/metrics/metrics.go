package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline step metrics
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posthog_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline step execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	StepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_step_errors_total",
			Help: "Total number of pipeline step failures",
		},
		[]string{"step"},
	)

	StepThrown = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_step_thrown_total",
			Help: "Total number of retryable errors re-raised out of a step",
		},
		[]string{"step"},
	)

	StepDLQSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_step_dlq_sent_total",
			Help: "Total number of events sent to the dead letter queue per step",
		},
		[]string{"step"},
	)

	StepDLQFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_step_dlq_failed_total",
			Help: "Total number of dead letter writes that themselves failed per step",
		},
		[]string{"step"},
	)

	StepStalled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_step_stalled_total",
			Help: "Total number of steps that exceeded the stall timeout",
		},
		[]string{"step"},
	)

	// Event outcome metrics
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_events_dropped_total",
			Help: "Total number of events intentionally dropped",
		},
		[]string{"reason"},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_events_processed_total",
			Help: "Total number of events that reached the create event step",
		},
	)

	IngestionWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_ingestion_warnings_total",
			Help: "Total number of ingestion warnings emitted",
		},
		[]string{"type"},
	)

	// Acknowledgement metrics
	AcksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "posthog_pipeline_acks_pending",
			Help: "Number of pending acknowledgements",
		},
	)

	AcksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_acks_completed_total",
			Help: "Total number of completed acknowledgements",
		},
	)

	AcksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_acks_failed_total",
			Help: "Total number of failed acknowledgements",
		},
	)

	// Consumer metrics
	MessagesRedelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_messages_redelivered_total",
			Help: "Total number of messages negatively acknowledged for redelivery",
		},
	)

	MessagesSettled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posthog_pipeline_messages_settled_total",
			Help: "Total number of messages acknowledged after a pipeline result",
		},
	)
)
