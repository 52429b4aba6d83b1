// Package teams resolves the owning team for incoming events, with a Redis
// read-through cache in front of Postgres.
package teams

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/model"
)

// Manager implements the team population step.
type Manager struct {
	store Store
	cache *redis.Client
	ttl   time.Duration
	log   *logging.Logger
}

// NewManager creates a Manager. cache may be nil to disable caching.
func NewManager(store Store, cache *redis.Client, ttl time.Duration, log *logging.Logger) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{store: store, cache: cache, ttl: ttl, log: log}
}

// PopulateTeamData resolves the team and returns the enriched event, or nil
// when no team matches. Cache failures fall through to the store.
func (m *Manager) PopulateTeamData(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error) {
	team, err := m.resolve(ctx, event)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, nil
	}

	enriched := event.Clone()
	enriched.TeamID = team.ID
	if team.AnonymizeIPs {
		enriched.IP = ""
		if enriched.Properties != nil {
			delete(enriched.Properties, "$ip")
		}
	}
	return enriched, nil
}

func (m *Manager) resolve(ctx context.Context, event *model.PipelineEvent) (*model.Team, error) {
	if event.Token != "" {
		return m.resolveCached(ctx, "team:token:"+event.Token, func(ctx context.Context) (*model.Team, error) {
			return m.store.TeamByToken(ctx, event.Token)
		})
	}
	if event.TeamID != 0 {
		return m.resolveCached(ctx, "team:id:"+strconv.FormatInt(event.TeamID, 10), func(ctx context.Context) (*model.Team, error) {
			return m.store.TeamByID(ctx, event.TeamID)
		})
	}
	return nil, nil
}

func (m *Manager) resolveCached(ctx context.Context, key string, lookup func(context.Context) (*model.Team, error)) (*model.Team, error) {
	if m.cache != nil {
		data, err := m.cache.Get(ctx, key).Result()
		if err == nil {
			var team model.Team
			if unmarshalErr := json.Unmarshal([]byte(data), &team); unmarshalErr == nil {
				return &team, nil
			}
		} else if err != redis.Nil {
			m.log.Debug("team cache read failed", logging.Error(err))
		}
	}

	team, err := lookup(ctx)
	if err != nil || team == nil {
		return team, err
	}

	if m.cache != nil {
		if data, marshalErr := json.Marshal(team); marshalErr == nil {
			if setErr := m.cache.Set(ctx, key, data, m.ttl).Err(); setErr != nil {
				m.log.Debug("team cache write failed", logging.Error(setErr))
			}
		}
	}
	return team, nil
}
