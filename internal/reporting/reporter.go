// Package reporting is the side channel for non-retryable step failures.
// Reports are published fire-and-forget; losing one never affects the
// pipeline outcome.
package reporting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/messaging"
	"github.com/bahdcoder/posthog/internal/model"
)

// StepFailure is the wire form of one captured failure.
type StepFailure struct {
	Step      string               `json:"step"`
	TeamID    int64                `json:"team_id"`
	Error     string               `json:"error"`
	Args      []any                `json:"args,omitempty"`
	Event     *model.PipelineEvent `json:"event,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher is the producer surface the reporter needs.
type Publisher interface {
	PublishAsync(ctx context.Context, subject string, data []byte) (jetstream.PubAckFuture, error)
}

// BusReporter publishes step failures to the error subject.
type BusReporter struct {
	producer Publisher
	log      *logging.Logger
}

// NewBusReporter creates a reporter over the given producer.
func NewBusReporter(producer Publisher, log *logging.Logger) *BusReporter {
	return &BusReporter{producer: producer, log: log}
}

// CaptureStepFailure records one failure with step name and team id as tags
// and the arguments plus original event as context.
func (r *BusReporter) CaptureStepFailure(ctx context.Context, step string, teamID int64, stepErr error, args []any, original *model.PipelineEvent) {
	report := StepFailure{
		Step:      step,
		TeamID:    teamID,
		Error:     stepErr.Error(),
		Args:      args,
		Event:     original,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(report)
	if err != nil {
		r.log.Warn("failed to marshal step failure report", logging.Step(step), logging.Error(err))
		return
	}

	if _, err := r.producer.PublishAsync(ctx, messaging.SubjectEventsErrors, data); err != nil {
		r.log.Warn("failed to publish step failure report", logging.Step(step), logging.Error(err))
	}
}

// Noop discards all reports. Used in tests and when no bus is configured.
type Noop struct{}

func (Noop) CaptureStepFailure(ctx context.Context, step string, teamID int64, stepErr error, args []any, original *model.PipelineEvent) {
}
