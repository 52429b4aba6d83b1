// Package sink shapes events for storage and hands them to the processed
// events stream. The stream is the contract with the analytics store writer;
// the pipeline only waits for the stream to durably accept the row.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/messaging"
	"github.com/bahdcoder/posthog/internal/model"
	"github.com/bahdcoder/posthog/internal/pipeline"
)

// Publisher is the async publish surface the sink needs.
type Publisher interface {
	PublishAsync(ctx context.Context, subject string, data []byte) (jetstream.PubAckFuture, error)
}

// Writer prepares events for storage and publishes the final rows.
type Writer struct {
	producer Publisher
	log      *logging.Logger
	now      func() time.Time
}

// NewWriter creates a Writer publishing through the given producer.
func NewWriter(producer Publisher, log *logging.Logger) *Writer {
	return &Writer{producer: producer, log: log, now: time.Now}
}

// Prepare shapes a normalized event into its storage form.
func (w *Writer) Prepare(ctx context.Context, event *model.PipelineEvent, ts time.Time, processPerson bool) (*model.PreparedEvent, error) {
	prepared := &model.PreparedEvent{
		UUID:       event.UUID,
		Event:      event.Event,
		DistinctID: event.DistinctID,
		TeamID:     event.TeamID,
		Timestamp:  ts,
	}

	if event.Properties != nil {
		props := make(map[string]any, len(event.Properties))
		for k, v := range event.Properties {
			props[k] = v
		}
		if chain, ok := props["$elements_chain"].(string); ok {
			prepared.ElementsChain = chain
			delete(props, "$elements_chain")
		}
		prepared.Properties = props
	}

	return prepared, nil
}

// Create builds the final row from the prepared event and publishes it to the
// team's processed events subject. The returned handle resolves once the
// stream has durably accepted the row.
func (w *Writer) Create(ctx context.Context, prepared *model.PreparedEvent, person *model.Person, processPerson bool) (*model.RawEventRow, ack.Ack, error) {
	props, err := json.Marshal(prepared.Properties)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event properties: %w", err)
	}

	row := &model.RawEventRow{
		UUID:       prepared.UUID,
		Event:      prepared.Event,
		DistinctID: prepared.DistinctID,
		TeamID:     prepared.TeamID,
		Properties: string(props),
		Timestamp:  prepared.Timestamp,
		CreatedAt:  w.now().UTC(),
	}

	if processPerson && person != nil {
		row.PersonID = person.UUID
		if person.Properties != nil {
			personProps, err := json.Marshal(person.Properties)
			if err != nil {
				return nil, nil, fmt.Errorf("marshal person properties: %w", err)
			}
			row.PersonProperties = string(personProps)
		}
	}

	data, err := json.Marshal(row)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event row: %w", err)
	}

	future, err := w.producer.PublishAsync(ctx, messaging.ProcessedEventSubject(row.TeamID), data)
	if err != nil {
		return nil, nil, &pipeline.DependencyUnavailableError{
			Dependency: "nats",
			Err:        fmt.Errorf("publish event row: %w", err),
		}
	}

	return row, ack.FromFuture(future), nil
}
