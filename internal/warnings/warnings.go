// Package warnings emits ingestion warnings to teams over the message bus.
package warnings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/messaging"
)

// Publisher is the producer surface the emitter needs.
type Publisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
	PublishAsync(ctx context.Context, subject string, data []byte) (jetstream.PubAckFuture, error)
}

// Warning is the wire form of an ingestion warning.
type Warning struct {
	TeamID    int64          `json:"team_id"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter writes warnings to the warnings stream.
type Emitter struct {
	producer Publisher
	log      *logging.Logger
}

// NewEmitter creates an Emitter over the given producer.
func NewEmitter(producer Publisher, log *logging.Logger) *Emitter {
	return &Emitter{producer: producer, log: log}
}

// Emit queues one warning. With alwaysSend the publish is synchronous and
// the returned handle is already resolved; otherwise the publish is async
// and best-effort.
func (e *Emitter) Emit(ctx context.Context, teamID int64, warningType string, details map[string]any, alwaysSend bool) (ack.Ack, error) {
	w := Warning{
		TeamID:    teamID,
		Type:      warningType,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal warning: %w", err)
	}

	subject := messaging.SubjectEventsWarnings + "." + warningType

	if alwaysSend {
		if _, err := e.producer.PublishSync(ctx, subject, data); err != nil {
			return nil, fmt.Errorf("publish warning: %w", err)
		}
		return ack.Resolved(), nil
	}

	future, err := e.producer.PublishAsync(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("publish warning: %w", err)
	}
	return ack.FromFuture(future), nil
}
