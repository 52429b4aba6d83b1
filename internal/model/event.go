package model

import (
	"time"
)

// PipelineEvent is the unit of work flowing through the ingestion pipeline.
// Stages never mutate an event in place; each stage returns a new copy (or
// nil, meaning the event was dropped).
type PipelineEvent struct {
	UUID       string         `json:"uuid"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Token      string         `json:"token,omitempty"`
	TeamID     int64          `json:"team_id,omitempty"`
	IP         string         `json:"ip,omitempty"`
	SiteURL    string         `json:"site_url,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	SentAt     string         `json:"sent_at,omitempty"`
	Now        string         `json:"now,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Clone returns a deep-enough copy for stage handoff: the property map is
// copied one level so a stage can add or remove keys without aliasing.
func (e *PipelineEvent) Clone() *PipelineEvent {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Properties != nil {
		clone.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			clone.Properties[k] = v
		}
	}
	return &clone
}

// Team is the resolved owner of an event.
type Team struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	APIToken          string `json:"api_token"`
	AnonymizeIPs      bool   `json:"anonymize_ips"`
	PersonProcessing  bool   `json:"person_processing_opt_in"`
	IngestedEventSeen bool   `json:"ingested_event"`
}

// Person is the identity record attached to an event when person processing
// is enabled.
type Person struct {
	UUID       string         `json:"uuid"`
	TeamID     int64          `json:"team_id"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PreparedEvent is the storage-shaped form produced by the preparation stage.
type PreparedEvent struct {
	UUID          string         `json:"uuid"`
	Event         string         `json:"event"`
	DistinctID    string         `json:"distinct_id"`
	TeamID        int64          `json:"team_id"`
	Properties    map[string]any `json:"properties,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ElementsChain string         `json:"elements_chain,omitempty"`
}

// RawEventRow is the final record handed to the event sink. Its shape is the
// wire contract with the analytics store writer downstream.
type RawEventRow struct {
	UUID             string    `json:"uuid"`
	Event            string    `json:"event"`
	DistinctID       string    `json:"distinct_id"`
	TeamID           int64     `json:"team_id"`
	Properties       string    `json:"properties"`
	PersonID         string    `json:"person_id,omitempty"`
	PersonProperties string    `json:"person_properties,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	CreatedAt        time.Time `json:"created_at"`
}
