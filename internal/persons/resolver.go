// Package persons attaches identity records to events. The merge algorithm
// itself lives downstream; this resolver only upserts the person row the
// event maps to.
package persons

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/model"
	"github.com/bahdcoder/posthog/internal/pipeline"
)

// Resolver implements the person resolution step over Postgres.
type Resolver struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewResolver creates a Resolver over an existing pool.
func NewResolver(pool *pgxpool.Pool, log *logging.Logger) *Resolver {
	return &Resolver{pool: pool, log: log}
}

// ResolvePerson upserts the person for the event's distinct id and returns
// the event together with the person record. When person processing is
// disabled no person is computed.
func (r *Resolver) ResolvePerson(ctx context.Context, event *model.PipelineEvent, ts time.Time, processPerson, useEmbraceJoin bool) (*model.PipelineEvent, *model.Person, error) {
	if !processPerson {
		return event, nil, nil
	}

	props := setProperties(event)

	// Embrace-join keeps the earliest identity's properties on conflict;
	// the legacy path lets the newest write win.
	merge := `persons.properties || EXCLUDED.properties`
	if useEmbraceJoin {
		merge = `EXCLUDED.properties || persons.properties`
	}

	query := `
		INSERT INTO persons (uuid, team_id, distinct_id, properties, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, distinct_id)
		DO UPDATE SET properties = ` + merge + `
		RETURNING uuid, properties, created_at
	`

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var person model.Person
	person.TeamID = event.TeamID
	err := r.pool.QueryRow(queryCtx, query,
		uuid.New().String(), event.TeamID, event.DistinctID, props, ts,
	).Scan(&person.UUID, &person.Properties, &person.CreatedAt)
	if err != nil {
		return nil, nil, &pipeline.DependencyUnavailableError{
			Dependency: "postgres",
			Err:        fmt.Errorf("upsert person: %w", err),
		}
	}

	return event, &person, nil
}

// setProperties extracts the person property updates carried on the event.
func setProperties(event *model.PipelineEvent) map[string]any {
	props := map[string]any{}
	if event.Properties == nil {
		return props
	}
	if set, ok := event.Properties["$set"].(map[string]any); ok {
		for k, v := range set {
			props[k] = v
		}
	}
	if setOnce, ok := event.Properties["$set_once"].(map[string]any); ok {
		for k, v := range setOnce {
			if _, exists := props[k]; !exists {
				props[k] = v
			}
		}
	}
	return props
}
