// Package steps assembles the concrete stage implementations behind the
// pipeline's step interface.
package steps

import (
	"context"
	"time"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/model"
	"github.com/bahdcoder/posthog/internal/normalize"
	"github.com/bahdcoder/posthog/internal/persons"
	"github.com/bahdcoder/posthog/internal/pipeline"
	"github.com/bahdcoder/posthog/internal/plugins"
	"github.com/bahdcoder/posthog/internal/sink"
	"github.com/bahdcoder/posthog/internal/teams"
)

// Composite delegates each pipeline stage to its owning package.
type Composite struct {
	Teams      *teams.Manager
	Plugins    *plugins.Chain
	Normalizer *normalize.Normalizer
	Persons    *persons.Resolver
	Sink       *sink.Writer
}

var _ pipeline.Steps = (*Composite)(nil)

func (c *Composite) PopulateTeamData(ctx context.Context, rc *pipeline.RunnerContext, event *model.PipelineEvent) (*model.PipelineEvent, error) {
	return c.Teams.PopulateTeamData(ctx, event)
}

func (c *Composite) ProcessWithPlugins(ctx context.Context, rc *pipeline.RunnerContext, event *model.PipelineEvent, runDeprecated bool) (*model.PipelineEvent, error) {
	return c.Plugins.Process(ctx, event, runDeprecated)
}

func (c *Composite) Normalize(ctx context.Context, event *model.PipelineEvent, processPerson bool) (*model.PipelineEvent, time.Time, error) {
	return c.Normalizer.Normalize(event, processPerson)
}

func (c *Composite) ResolvePerson(ctx context.Context, rc *pipeline.RunnerContext, event *model.PipelineEvent, ts time.Time, processPerson bool) (*model.PipelineEvent, *model.Person, error) {
	return c.Persons.ResolvePerson(ctx, event, ts, processPerson, rc.UseEmbraceJoin)
}

func (c *Composite) PrepareEvent(ctx context.Context, rc *pipeline.RunnerContext, event *model.PipelineEvent, ts time.Time, processPerson bool) (*model.PreparedEvent, error) {
	return c.Sink.Prepare(ctx, event, ts, processPerson)
}

func (c *Composite) CreateEvent(ctx context.Context, rc *pipeline.RunnerContext, prepared *model.PreparedEvent, person *model.Person, processPerson bool) (*model.RawEventRow, ack.Ack, error) {
	return c.Sink.Create(ctx, prepared, person, processPerson)
}
