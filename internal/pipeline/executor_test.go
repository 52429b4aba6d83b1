package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/metrics"
	"github.com/bahdcoder/posthog/internal/model"
)

type fakeDLQ struct {
	writes   int
	lastStep string
	lastErr  error
	lastTeam int64
	original *model.PipelineEvent
	fail     error
}

func (f *fakeDLQ) Write(ctx context.Context, original *model.PipelineEvent, stepErr error, teamID int64, step string) error {
	f.writes++
	f.original = original
	f.lastErr = stepErr
	f.lastTeam = teamID
	f.lastStep = step
	return f.fail
}

type fakeReporter struct {
	captures []string
}

func (f *fakeReporter) CaptureStepFailure(ctx context.Context, step string, teamID int64, stepErr error, args []any, original *model.PipelineEvent) {
	f.captures = append(f.captures, step)
}

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func testContext() *RunnerContext {
	return &RunnerContext{Original: &model.PipelineEvent{
		UUID:       "uuid-1",
		Event:      "pageview",
		DistinctID: "u1",
		TeamID:     1,
	}}
}

func TestRunStep_Success(t *testing.T) {
	dlq := &fakeDLQ{}
	exec := NewExecutor(testLogger(), dlq, &fakeReporter{}, time.Second)

	out, err := RunStep(context.Background(), exec, testContext(), "someStep", 1, true, nil,
		func(ctx context.Context) (string, error) {
			return "output", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "output", out)
	assert.Zero(t, dlq.writes, "no dead letter on success")
}

func TestRunStep_RetryableErrorPropagatesUnchanged(t *testing.T) {
	dlq := &fakeDLQ{}
	reporter := &fakeReporter{}
	exec := NewExecutor(testLogger(), dlq, reporter, time.Second)

	depErr := &DependencyUnavailableError{Dependency: "postgres", Err: errors.New("connection refused")}
	_, err := RunStep(context.Background(), exec, testContext(), "someStep", 1, true, nil,
		func(ctx context.Context) (string, error) {
			return "", depErr
		})

	require.Error(t, err)
	assert.Same(t, depErr, err, "retryable error must be re-raised unchanged")
	assert.Zero(t, dlq.writes, "no dead letter for retryable errors")
	assert.Empty(t, reporter.captures, "retryable errors are not reported")
}

func TestRunStep_NonRetryableGoesToDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	reporter := &fakeReporter{}
	exec := NewExecutor(testLogger(), dlq, reporter, time.Second)

	rc := testContext()
	args := []any{"arg"}
	stepErr := errors.New("bad payload")
	sentBefore := testutil.ToFloat64(metrics.StepDLQSent.WithLabelValues("someStep"))
	_, err := RunStep(context.Background(), exec, rc, "someStep", 42, true, args,
		func(ctx context.Context) (string, error) {
			return "", stepErr
		})

	require.Error(t, err)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "someStep", se.Step)
	assert.Equal(t, args, se.Args)
	assert.ErrorIs(t, se, stepErr)

	assert.Equal(t, 1, dlq.writes, "exactly one dead letter write")
	assert.Equal(t, "someStep", dlq.lastStep)
	assert.Equal(t, int64(42), dlq.lastTeam)
	assert.Same(t, rc.Original, dlq.original, "dead letter embeds the original untransformed event")
	assert.Equal(t, []string{"someStep"}, reporter.captures)
	assert.Equal(t, sentBefore+1, testutil.ToFloat64(metrics.StepDLQSent.WithLabelValues("someStep")))
}

func TestRunStep_DLQSuppressed(t *testing.T) {
	dlq := &fakeDLQ{}
	exec := NewExecutor(testLogger(), dlq, &fakeReporter{}, time.Second)

	_, err := RunStep(context.Background(), exec, testContext(), "someStep", 1, false, nil,
		func(ctx context.Context) (string, error) {
			return "", errors.New("boom")
		})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, dlq.writes)
}

func TestRunStep_DLQWriteFailureDoesNotEscalate(t *testing.T) {
	dlq := &fakeDLQ{fail: errors.New("stream down")}
	reporter := &fakeReporter{}
	exec := NewExecutor(testLogger(), dlq, reporter, time.Second)

	sentBefore := testutil.ToFloat64(metrics.StepDLQSent.WithLabelValues("someStep"))
	failedBefore := testutil.ToFloat64(metrics.StepDLQFailed.WithLabelValues("someStep"))
	_, err := RunStep(context.Background(), exec, testContext(), "someStep", 1, true, nil,
		func(ctx context.Context) (string, error) {
			return "", errors.New("boom")
		})

	var se *StepError
	require.ErrorAs(t, err, &se, "original classification still applies")
	assert.Equal(t, "boom", se.Err.Error())
	assert.Len(t, reporter.captures, 2, "both the step failure and the DLQ failure are reported")
	assert.Equal(t, sentBefore, testutil.ToFloat64(metrics.StepDLQSent.WithLabelValues("someStep")),
		"a failed dead letter write is not counted as sent")
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.StepDLQFailed.WithLabelValues("someStep")))
}

// syncBuffer makes a bytes.Buffer safe for the stall timer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunStep_StallWarningCarriesEventContext(t *testing.T) {
	out := &syncBuffer{}
	log := &logging.Logger{Logger: slog.New(slog.NewTextHandler(out, nil))}
	exec := NewExecutor(log, &fakeDLQ{}, &fakeReporter{}, 10*time.Millisecond)

	rc := testContext()
	_, err := RunStep(context.Background(), exec, rc, "slowStep", 1, true, nil,
		func(ctx context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "finished", nil
		})
	require.NoError(t, err)

	logged := out.String()
	assert.Contains(t, logged, "pipeline step stalled")
	assert.Contains(t, logged, rc.Original.UUID)
	assert.Contains(t, logged, rc.Original.DistinctID)
	assert.Contains(t, logged, rc.Original.Event)
}

func TestRunStep_StallTimerDoesNotAbortStep(t *testing.T) {
	exec := NewExecutor(testLogger(), &fakeDLQ{}, &fakeReporter{}, 10*time.Millisecond)

	out, err := RunStep(context.Background(), exec, testContext(), "slowStep", 1, true, nil,
		func(ctx context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "finished", nil
		})

	require.NoError(t, err, "the stall timer is a monitoring signal only")
	assert.Equal(t, "finished", out)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&DependencyUnavailableError{Dependency: "redis", Err: errors.New("x")}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(&StepError{Step: "s", Err: errors.New("x")}))

	// Wrapped retryable errors are still recognized.
	wrapped := &DependencyUnavailableError{Dependency: "kafka", Err: errors.New("x")}
	assert.True(t, IsRetryable(&StepError{Step: "s", Err: wrapped}))
}
