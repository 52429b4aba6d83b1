package pipeline

import (
	"context"
	"time"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/metrics"
)

// Executor wraps a single stage invocation with timing, stall detection, and
// error classification.
type Executor struct {
	log          *logging.Logger
	dlq          DeadLetterWriter
	reporter     Reporter
	stallTimeout time.Duration
}

// NewExecutor creates an Executor. dlq and reporter may be nil; both then
// degrade to logging only.
func NewExecutor(log *logging.Logger, dlq DeadLetterWriter, reporter Reporter, stallTimeout time.Duration) *Executor {
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Second
	}
	return &Executor{
		log:          log,
		dlq:          dlq,
		reporter:     reporter,
		stallTimeout: stallTimeout,
	}
}

// RunStep executes one stage and classifies its failure.
//
// A stall timer fires a warning if the stage exceeds the configured
// threshold; it never aborts the stage and is always disarmed on exit. On
// success the stage output is returned unchanged. Retryable dependency
// errors are re-raised as-is so they propagate out of the whole pipeline.
// Every other error is logged, reported, written to the dead letter queue
// (unless sendToDLQ is false), and converted into a StepError.
func RunStep[T any](ctx context.Context, x *Executor, rc *RunnerContext, step string, teamID int64, sendToDLQ bool, args []any, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	timer := time.AfterFunc(x.stallTimeout, func() {
		metrics.StepStalled.WithLabelValues(step).Inc()
		x.log.Warn("pipeline step stalled",
			logging.Step(step),
			logging.TeamID(teamID),
			logging.EventUUID(rc.Original.UUID),
			logging.DistinctID(rc.Original.DistinctID),
			logging.Event(rc.Original.Event),
			logging.Duration(x.stallTimeout.Milliseconds()),
		)
	})
	defer timer.Stop()

	start := time.Now()
	out, err := fn(ctx)
	if err == nil {
		metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
		return out, nil
	}

	metrics.StepErrors.WithLabelValues(step).Inc()

	if IsRetryable(err) {
		metrics.StepThrown.WithLabelValues(step).Inc()
		return zero, err
	}

	x.log.Error("pipeline step failed",
		logging.Step(step),
		logging.TeamID(teamID),
		logging.DistinctID(rc.Original.DistinctID),
		logging.Error(err),
	)
	if x.reporter != nil {
		x.reporter.CaptureStepFailure(ctx, step, teamID, err, args, rc.Original)
	}

	if sendToDLQ && x.dlq != nil {
		if dlqErr := x.dlq.Write(ctx, rc.Original, err, teamID, step); dlqErr != nil {
			metrics.StepDLQFailed.WithLabelValues(step).Inc()
			// A failed dead letter write must not change the outcome; the
			// pipeline still terminates deterministically.
			x.log.Error("dead letter write failed",
				logging.Step(step),
				logging.TeamID(teamID),
				logging.Error(dlqErr),
			)
			if x.reporter != nil {
				x.reporter.CaptureStepFailure(ctx, step, teamID, dlqErr, nil, rc.Original)
			}
		} else {
			metrics.StepDLQSent.WithLabelValues(step).Inc()
		}
	}

	return zero, &StepError{Step: step, Args: args, Err: err}
}
