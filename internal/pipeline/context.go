package pipeline

import (
	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/model"
)

// RunnerContext is the per-event execution context. It lives for exactly one
// Run invocation and is discarded with the Result.
type RunnerContext struct {
	// Original is the untransformed input event, retained for error
	// reporting and dead letter records.
	Original *model.PipelineEvent

	// UseEmbraceJoin engages legacy person-merge routing for this event's
	// team. It only changes context handed to the person resolution stage,
	// never control flow here.
	UseEmbraceJoin bool

	acks []ack.Ack
}

// appendAck records a pending acknowledgement handle. Handles survive drops
// and failures: side-effecting writes that already happened must still be
// awaited by the caller.
func (rc *RunnerContext) appendAck(a ack.Ack) {
	if a != nil {
		rc.acks = append(rc.acks, a)
	}
}

// Acks returns the accumulated handles in production order.
func (rc *RunnerContext) Acks() []ack.Ack {
	return rc.acks
}
