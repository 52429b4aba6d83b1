package pipeline

import (
	"context"
	"time"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/model"
)

// Steps are the external collaborators the orchestrator sequences around.
// Each implementation owns its own atomicity; the pipeline never cancels a
// stage mid-flight.
type Steps interface {
	// PopulateTeamData resolves the owning team and returns the enriched
	// event, or nil when no team matches (the event is then invalid and the
	// pipeline stops without error).
	PopulateTeamData(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent) (*model.PipelineEvent, error)

	// ProcessWithPlugins runs the plugin chain. A nil event means a plugin
	// intentionally dropped it. runDeprecated gates expensive legacy
	// plugins.
	ProcessWithPlugins(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent, runDeprecated bool) (*model.PipelineEvent, error)

	// Normalize produces the canonical event form and its timestamp.
	Normalize(ctx context.Context, event *model.PipelineEvent, processPerson bool) (*model.PipelineEvent, time.Time, error)

	// ResolvePerson attaches identity data to the event.
	ResolvePerson(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent, ts time.Time, processPerson bool) (*model.PipelineEvent, *model.Person, error)

	// PrepareEvent shapes the event for storage.
	PrepareEvent(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent, ts time.Time, processPerson bool) (*model.PreparedEvent, error)

	// CreateEvent persists the prepared event and returns the final record
	// together with the acknowledgement handle for the write.
	CreateEvent(ctx context.Context, rc *RunnerContext, prepared *model.PreparedEvent, person *model.Person, processPerson bool) (*model.RawEventRow, ack.Ack, error)
}

// WarningEmitter surfaces ingestion warnings to the event's team. Delivery
// is best-effort unless alwaysSend is set.
type WarningEmitter interface {
	Emit(ctx context.Context, teamID int64, warningType string, details map[string]any, alwaysSend bool) (ack.Ack, error)
}

// DeadLetterWriter hands failed events to the dead letter destination and
// waits for the write to be acknowledged.
type DeadLetterWriter interface {
	Write(ctx context.Context, original *model.PipelineEvent, stepErr error, teamID int64, step string) error
}

// Reporter is the error reporting side channel for non-retryable step
// failures.
type Reporter interface {
	CaptureStepFailure(ctx context.Context, step string, teamID int64, stepErr error, args []any, original *model.PipelineEvent)
}
