// Package normalize produces the canonical event form consumed by person
// resolution and storage preparation.
package normalize

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bahdcoder/posthog/internal/model"
)

// personProperties mirror the fields stripped by the orchestrator when
// person processing is disabled; normalization enforces the same shape on
// events rewritten by plugins.
var personProperties = []string{"$set", "$set_once", "$unset"}

// Normalizer canonicalizes events. The zero value uses the wall clock.
type Normalizer struct {
	// Now is the clock used when the event carries no usable timestamp.
	Now func() time.Time
}

// New returns a Normalizer using the wall clock.
func New() *Normalizer {
	return &Normalizer{Now: func() time.Time { return time.Now().UTC() }}
}

// Normalize validates and canonicalizes the event and derives its
// timestamp.
func (n *Normalizer) Normalize(event *model.PipelineEvent, processPerson bool) (*model.PipelineEvent, time.Time, error) {
	if event.Event == "" {
		return nil, time.Time{}, fmt.Errorf("event has no name")
	}
	if event.DistinctID == "" {
		return nil, time.Time{}, fmt.Errorf("event has no distinct id")
	}

	out := event.Clone()
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}

	if out.UUID == "" {
		out.UUID = uuid.New().String()
	} else if _, err := uuid.Parse(out.UUID); err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid event uuid %q: %w", out.UUID, err)
	}

	if out.IP != "" {
		if _, ok := out.Properties["$ip"]; !ok {
			out.Properties["$ip"] = out.IP
		}
	}

	if !processPerson {
		for _, key := range personProperties {
			delete(out.Properties, key)
		}
		out.Properties["$process_person"] = false
	}

	ts := n.timestamp(out)
	return out, ts, nil
}

// timestamp picks the event time: the explicit timestamp when parseable,
// then sent_at, then the clock.
func (n *Normalizer) timestamp(event *model.PipelineEvent) time.Time {
	for _, candidate := range []string{event.Timestamp, event.SentAt} {
		if candidate == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, candidate); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, candidate); err == nil {
			return ts.UTC()
		}
	}
	return n.Now()
}
