package teams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bahdcoder/posthog/internal/model"
	"github.com/bahdcoder/posthog/internal/pipeline"
)

// Store looks up teams. A nil team with nil error means no team matches.
type Store interface {
	TeamByToken(ctx context.Context, token string) (*model.Team, error)
	TeamByID(ctx context.Context, id int64) (*model.Team, error)
}

// PostgresStore reads teams from Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const teamColumns = `id, name, api_token, anonymize_ips, person_processing_opt_in, ingested_event`

// TeamByToken returns the team owning the API token.
func (s *PostgresStore) TeamByToken(ctx context.Context, token string) (*model.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT ` + teamColumns + ` FROM teams WHERE api_token = $1`
	return s.scanTeam(s.pool.QueryRow(ctx, query, token))
}

// TeamByID returns the team with the given id.
func (s *PostgresStore) TeamByID(ctx context.Context, id int64) (*model.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	return s.scanTeam(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) scanTeam(row pgx.Row) (*model.Team, error) {
	var team model.Team
	err := row.Scan(
		&team.ID, &team.Name, &team.APIToken,
		&team.AnonymizeIPs, &team.PersonProcessing, &team.IngestedEventSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &pipeline.DependencyUnavailableError{
			Dependency: "postgres",
			Err:        fmt.Errorf("query team: %w", err),
		}
	}
	return &team, nil
}
