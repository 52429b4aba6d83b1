// Package consumer drives the pipeline from the raw events stream. Offset
// handling follows the pipeline's retry contract: retryable failures redeliver
// the message, everything else is acknowledged once all downstream writes
// have been confirmed.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/ack"
	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/metrics"
	"github.com/bahdcoder/posthog/internal/model"
	"github.com/bahdcoder/posthog/internal/pipeline"
)

const redeliveryDelay = 5 * time.Second

// Runner is the pipeline entry point the consumer feeds.
type Runner interface {
	Run(ctx context.Context, event *model.PipelineEvent) (*pipeline.Result, error)
}

// Consumer pulls raw events from JetStream and runs them through the
// pipeline.
type Consumer struct {
	consumer jetstream.Consumer
	runner   Runner
	log      *logging.Logger
}

// New creates a Consumer over an existing durable JetStream consumer.
func New(consumer jetstream.Consumer, runner Runner, log *logging.Logger) *Consumer {
	return &Consumer{consumer: consumer, runner: runner, log: log}
}

// Start consumes messages until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	cc, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.Handle(ctx, msg)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

// Handle processes one message and settles it according to the outcome.
func (c *Consumer) Handle(ctx context.Context, msg jetstream.Msg) {
	var event model.PipelineEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// Malformed payloads can never succeed; drop them for good.
		c.log.Warn("discarding undecodable event", logging.Error(err))
		metrics.EventsDropped.WithLabelValues("undecodable").Inc()
		c.settle(msg.Term())
		return
	}

	result, err := c.runner.Run(ctx, &event)
	if err != nil {
		if pipeline.IsRetryable(err) {
			metrics.MessagesRedelivered.Inc()
			c.log.Warn("dependency unavailable, redelivering",
				logging.DistinctID(event.DistinctID),
				logging.Error(err),
			)
			c.settle(msg.NakWithDelay(redeliveryDelay))
			return
		}
		// The pipeline converts non-retryable failures into results, so an
		// error here is a programming fault. Terminate rather than loop.
		c.log.Error("unexpected pipeline error", logging.Error(err))
		c.settle(msg.Term())
		return
	}

	if waitErr := ack.WaitAll(ctx, result.Acks); waitErr != nil {
		c.log.Warn("downstream write unconfirmed, redelivering",
			logging.DistinctID(event.DistinctID),
			logging.Error(waitErr),
		)
		metrics.MessagesRedelivered.Inc()
		c.settle(msg.NakWithDelay(redeliveryDelay))
		return
	}

	metrics.MessagesSettled.Inc()
	c.settle(msg.Ack())
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.log.Warn("message settlement failed", logging.Error(err))
	}
}
