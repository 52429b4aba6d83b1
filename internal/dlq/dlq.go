// Package dlq writes non-retryably failed events to the dead letter stream
// for later inspection and replay.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/messaging"
	"github.com/bahdcoder/posthog/internal/model"
)

// FailedEvent captures a processing failure for replay. The embedded event
// is the original, untransformed input.
type FailedEvent struct {
	Timestamp time.Time            `json:"timestamp"`
	Event     *model.PipelineEvent `json:"event"`
	Error     string               `json:"error"`
	TeamID    int64                `json:"team_id"`
	Step      string               `json:"step"`
	Attempts  int                  `json:"attempts"`
}

// Publisher is the producer surface the queue needs.
type Publisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// Queue publishes failed events to the dead letter stream. Safe for use
// across concurrent pipeline invocations.
type Queue struct {
	producer Publisher
	log      *logging.Logger
	written  atomic.Uint64
}

// NewQueue creates a DLQ over the given producer.
func NewQueue(producer Publisher, log *logging.Logger) *Queue {
	return &Queue{producer: producer, log: log}
}

// Write records a failed event and waits for the stream acknowledgment.
func (q *Queue) Write(ctx context.Context, original *model.PipelineEvent, stepErr error, teamID int64, step string) error {
	failed := FailedEvent{
		Timestamp: time.Now().UTC(),
		Event:     original,
		Error:     stepErr.Error(),
		TeamID:    teamID,
		Step:      step,
		Attempts:  1,
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}

	if _, err := q.producer.PublishSync(ctx, messaging.DLQSubject(step), data); err != nil {
		return fmt.Errorf("publish dead letter entry: %w", err)
	}

	q.written.Add(1)
	q.log.Info("dead letter published",
		logging.Step(step),
		logging.TeamID(teamID),
	)
	return nil
}

// Written returns the number of entries published by this instance.
func (q *Queue) Written() uint64 {
	return q.written.Load()
}
