package messaging

import (
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Subject constants for the pipeline message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// Raw events awaiting pipeline processing. Append the team token for a
	// specific source.
	SubjectEventsRaw = "events.raw"

	// Processed events bound for the analytics store writer.
	SubjectEventsProcessed = "events.processed"

	// Ingestion warnings surfaced to teams.
	SubjectEventsWarnings = "events.warnings"

	// Dead letter entries; append the failing step name.
	SubjectEventsDLQ = "events.dlq"

	// Non-retryable step failures for the error reporting side channel.
	SubjectEventsErrors = "events.errors"
)

// Durable consumer names.
const (
	ConsumerPipeline = "pipeline-workers"
)

// Predefined stream configurations for the pipeline.
var (
	// RawEventsStream captures events awaiting processing.
	RawEventsStream = StreamConfig{
		Name:      "EVENTS_RAW",
		Subjects:  []string{"events.raw.>", "events.raw"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.WorkQueuePolicy, // Each message delivered once
		Storage:   jetstream.FileStorage,
	}

	// ProcessedEventsStream captures pipeline output.
	ProcessedEventsStream = StreamConfig{
		Name:      "EVENTS_PROCESSED",
		Subjects:  []string{"events.processed.>", "events.processed"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// WarningsStream captures ingestion warnings.
	WarningsStream = StreamConfig{
		Name:      "EVENTS_WARNINGS",
		Subjects:  []string{"events.warnings.>", "events.warnings"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024, // 100MB
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	// DLQStream captures events whose processing failed non-retryably.
	DLQStream = StreamConfig{
		Name:      "EVENTS_DLQ",
		Subjects:  []string{"events.dlq.>", "events.dlq"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)

// ProcessedEventSubject returns the subject for a specific team's processed
// events. Example: events.processed.42
func ProcessedEventSubject(teamID int64) string {
	return SubjectEventsProcessed + "." + strconv.FormatInt(teamID, 10)
}

// DLQSubject returns the subject for a specific step's dead letters.
// Example: events.dlq.createEventStep
func DLQSubject(step string) string {
	return SubjectEventsDLQ + "." + step
}
