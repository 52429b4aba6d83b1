package pipeline

import (
	"github.com/bahdcoder/posthog/internal/ack"
)

// Step names, in execution order. The Result reports the last one reached.
const (
	StepEventDisallowed        = "eventDisallowedStep"
	StepPopulateTeamData       = "populateTeamDataStep"
	StepInvalidEventForFlags   = "invalidEventForProvidedFlags"
	StepClientIngestionWarning = "clientIngestionWarning"
	StepPluginsProcessEvent    = "pluginsProcessEventStep"
	StepNormalizeEvent         = "normalizeEventStep"
	StepProcessPersons         = "processPersonsStep"
	StepPrepareEvent           = "prepareEventStep"
	StepCreateEvent            = "createEventStep"
)

// Result is the terminal outcome of one pipeline invocation. Exactly one
// Result is produced per input event unless a retryable dependency error
// escapes Run.
type Result struct {
	// LastStep names the step the pipeline reached.
	LastStep string

	// Args holds the arguments the last step was invoked with, kept for
	// diagnostics and tests.
	Args []any

	// Error is the non-retryable failure message, empty on success or drop.
	Error string

	// Acks are the pending acknowledgement handles accumulated along the
	// way, in production order. The caller must wait on all of them before
	// treating the event as durably processed. Handles accumulated before a
	// drop or short-circuit are still present.
	Acks []ack.Ack
}

// Failed reports whether the pipeline terminated with a non-retryable step
// failure.
func (r *Result) Failed() bool {
	return r.Error != ""
}
