package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/droplist"
	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/metrics"
	"github.com/bahdcoder/posthog/internal/model"
)

// Event names that mutate identity and therefore require person processing.
var identityMutatingEvents = map[string]struct{}{
	"$identify":          {},
	"$create_alias":      {},
	"$merge_dangerously": {},
	"$groupidentify":     {},
}

// Properties stripped from an event when person processing is disabled.
var personProperties = []string{"$set", "$set_once", "$unset"}

const clientIngestionWarningEvent = "$$client_ingestion_warning"

// EmbraceJoinRouting decides which teams use legacy person-merge routing.
// It is read-only and shared across all pipeline invocations.
type EmbraceJoinRouting struct {
	teams     map[int64]struct{}
	maxTeamID int64
	excluded  map[int64]struct{}
}

// NewEmbraceJoinRouting builds the routing predicate from configuration.
func NewEmbraceJoinRouting(teams []int64, maxTeamID int64, excluded []int64) EmbraceJoinRouting {
	r := EmbraceJoinRouting{
		teams:     make(map[int64]struct{}, len(teams)),
		maxTeamID: maxTeamID,
		excluded:  make(map[int64]struct{}, len(excluded)),
	}
	for _, id := range teams {
		r.teams[id] = struct{}{}
	}
	for _, id := range excluded {
		r.excluded[id] = struct{}{}
	}
	return r
}

// Enabled reports whether the team routes through embrace-join. An explicit
// opt-in always wins; otherwise teams at or under the ceiling are routed
// unless explicitly excluded.
func (r EmbraceJoinRouting) Enabled(teamID int64) bool {
	if _, ok := r.teams[teamID]; ok {
		return true
	}
	if _, ok := r.excluded[teamID]; ok {
		return false
	}
	return r.maxTeamID > 0 && teamID <= r.maxTeamID
}

// Runner owns per-event control flow: disallow listing, person-processing
// flag derivation, conditional branching, stage sequencing, and
// acknowledgement accumulation.
type Runner struct {
	steps    Steps
	warnings WarningEmitter
	exec     *Executor
	drops    *droplist.List
	routing  EmbraceJoinRouting
	log      *logging.Logger
}

// NewRunner constructs a Runner. drops may be nil (nothing is dropped).
func NewRunner(steps Steps, warnings WarningEmitter, exec *Executor, drops *droplist.List, routing EmbraceJoinRouting, log *logging.Logger) *Runner {
	return &Runner{
		steps:    steps,
		warnings: warnings,
		exec:     exec,
		drops:    drops,
		routing:  routing,
		log:      log,
	}
}

// Run executes the pipeline for one event. Exactly one Result is returned
// per event; the returned error is non-nil only for retryable dependency
// failures, which the caller must surface by not acknowledging the source
// message.
func (r *Runner) Run(ctx context.Context, event *model.PipelineEvent) (*Result, error) {
	rc := &RunnerContext{Original: event.Clone()}

	// DisallowCheck: keyed by token when present, team id otherwise. A
	// missing key fails open; dropping happens later once the team is
	// resolved.
	key := event.Token
	if key == "" && event.TeamID != 0 {
		key = strconv.FormatInt(event.TeamID, 10)
	}
	if r.drops.ShouldDrop(key, event.DistinctID) {
		metrics.EventsDropped.WithLabelValues("disallowed").Inc()
		r.log.Debug("event disallowed",
			logging.DistinctID(event.DistinctID),
			logging.Event(event.Event),
		)
		return r.finish(rc, StepEventDisallowed, []any{event}), nil
	}

	// TeamResolution.
	teamEvent, err := RunStep(ctx, r.exec, rc, StepPopulateTeamData, event.TeamID, true, []any{event},
		func(ctx context.Context) (*model.PipelineEvent, error) {
			return r.steps.PopulateTeamData(ctx, rc, event)
		})
	if err != nil {
		return r.terminal(rc, err)
	}
	if teamEvent == nil {
		metrics.EventsDropped.WithLabelValues("no_team").Inc()
		return r.finish(rc, StepPopulateTeamData, []any{event}), nil
	}

	result, err := r.runEventPipelineSteps(ctx, rc, teamEvent)
	if err != nil {
		return r.terminal(rc, err)
	}
	return result, nil
}

// runEventPipelineSteps is the main sequence after team resolution.
func (r *Runner) runEventPipelineSteps(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent) (*Result, error) {
	// Embrace-join routing only flips context for later person resolution;
	// it never alters control flow here.
	if r.routing.Enabled(event.TeamID) {
		rc.UseEmbraceJoin = true
	}

	event, processPerson, result := r.derivePersonProcessing(ctx, rc, event)
	if result != nil {
		return result, nil
	}

	if event.Event == clientIngestionWarningEvent {
		r.emitWarning(ctx, rc, event, "client_ingestion_warning", map[string]any{
			"message": event.Properties["$$client_ingestion_warning_message"],
		}, true)
		metrics.EventsDropped.WithLabelValues("client_ingestion_warning").Inc()
		return r.finish(rc, StepClientIngestionWarning, []any{event}), nil
	}

	// Deprecated plugins only run when person processing is enabled.
	pluginEvent, err := RunStep(ctx, r.exec, rc, StepPluginsProcessEvent, event.TeamID, true, []any{event},
		func(ctx context.Context) (*model.PipelineEvent, error) {
			return r.steps.ProcessWithPlugins(ctx, rc, event, processPerson)
		})
	if err != nil {
		return nil, err
	}
	if pluginEvent == nil {
		metrics.EventsDropped.WithLabelValues("plugin_vetoed").Inc()
		return r.finish(rc, StepPluginsProcessEvent, []any{event}), nil
	}

	type normalized struct {
		event *model.PipelineEvent
		ts    time.Time
	}
	norm, err := RunStep(ctx, r.exec, rc, StepNormalizeEvent, pluginEvent.TeamID, true, []any{pluginEvent},
		func(ctx context.Context) (normalized, error) {
			ev, ts, err := r.steps.Normalize(ctx, pluginEvent, processPerson)
			return normalized{event: ev, ts: ts}, err
		})
	if err != nil {
		return nil, err
	}

	type resolved struct {
		event  *model.PipelineEvent
		person *model.Person
	}
	res, err := RunStep(ctx, r.exec, rc, StepProcessPersons, norm.event.TeamID, true, []any{norm.event, norm.ts},
		func(ctx context.Context) (resolved, error) {
			ev, person, err := r.steps.ResolvePerson(ctx, rc, norm.event, norm.ts, processPerson)
			return resolved{event: ev, person: person}, err
		})
	if err != nil {
		return nil, err
	}

	prepared, err := RunStep(ctx, r.exec, rc, StepPrepareEvent, res.event.TeamID, true, []any{res.event},
		func(ctx context.Context) (*model.PreparedEvent, error) {
			return r.steps.PrepareEvent(ctx, rc, res.event, norm.ts, processPerson)
		})
	if err != nil {
		return nil, err
	}

	type created struct {
		row    *model.RawEventRow
		handle ack.Ack
	}
	out, err := RunStep(ctx, r.exec, rc, StepCreateEvent, prepared.TeamID, true, []any{prepared},
		func(ctx context.Context) (created, error) {
			row, handle, err := r.steps.CreateEvent(ctx, rc, prepared, res.person, processPerson)
			return created{row: row, handle: handle}, err
		})
	if err != nil {
		return nil, err
	}
	rc.appendAck(out.handle)

	metrics.EventsProcessed.Inc()
	return r.finish(rc, StepCreateEvent, []any{out.row}), nil
}

// derivePersonProcessing interprets the $process_person property. It may
// rewrite the event (stripping person properties), emit warnings, or
// terminate the pipeline for invalid identity-event combinations.
func (r *Runner) derivePersonProcessing(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent) (*model.PipelineEvent, bool, *Result) {
	raw, present := event.Properties["$process_person"]
	if !present {
		return event, true, nil
	}

	switch v := raw.(type) {
	case bool:
		if v {
			return event, true, nil
		}
		if _, identity := identityMutatingEvents[event.Event]; identity {
			r.emitWarning(ctx, rc, event, "invalid_event_when_person_processing_disabled", map[string]any{
				"event":       event.Event,
				"distinct_id": event.DistinctID,
				"event_uuid":  event.UUID,
			}, true)
			metrics.EventsDropped.WithLabelValues("invalid_flags").Inc()
			return event, false, r.finish(rc, StepInvalidEventForFlags, []any{event})
		}
		return stripPersonProperties(event), false, nil
	default:
		// Fail open: an unparseable value behaves as if the property were
		// absent, with a best-effort warning so the client can fix it.
		r.emitWarning(ctx, rc, event, "invalid_process_person_value", map[string]any{
			"value":       v,
			"event_uuid":  event.UUID,
			"distinct_id": event.DistinctID,
		}, false)
		return event, true, nil
	}
}

// emitWarning queues an ingestion warning and records its acknowledgement.
// Best-effort failures are logged and dropped. A failed alwaysSend warning
// records a failed acknowledgement instead, so the source message is not
// committed until the warning has actually been delivered.
func (r *Runner) emitWarning(ctx context.Context, rc *RunnerContext, event *model.PipelineEvent, warningType string, details map[string]any, alwaysSend bool) {
	metrics.IngestionWarnings.WithLabelValues(warningType).Inc()
	handle, err := r.warnings.Emit(ctx, event.TeamID, warningType, details, alwaysSend)
	if err != nil {
		r.log.Warn("failed to emit ingestion warning",
			logging.TeamID(event.TeamID),
			logging.Event(event.Event),
			logging.Error(err),
		)
		if alwaysSend {
			rc.appendAck(ack.Failed(err))
		}
		return
	}
	rc.appendAck(handle)
}

// finish materializes the single Result for this invocation.
func (r *Runner) finish(rc *RunnerContext, lastStep string, args []any) *Result {
	return &Result{
		LastStep: lastStep,
		Args:     args,
		Acks:     rc.Acks(),
	}
}

// terminal converts an unwound error into a Result, or re-raises it when it
// carries the retryable discriminant.
func (r *Runner) terminal(rc *RunnerContext, err error) (*Result, error) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return &Result{
			LastStep: stepErr.Step,
			Args:     stepErr.Args,
			Error:    stepErr.Err.Error(),
			Acks:     rc.Acks(),
		}, nil
	}
	return nil, err
}

// stripPersonProperties removes person-related fields before any further
// stage sees the event.
func stripPersonProperties(event *model.PipelineEvent) *model.PipelineEvent {
	stripped := event.Clone()
	for _, key := range personProperties {
		delete(stripped.Properties, key)
	}
	return stripped
}
