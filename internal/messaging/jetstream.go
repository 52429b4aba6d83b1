package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Producer wraps a JetStream context for durable, acknowledged publishing.
// It is safe for concurrent use; each publish is independent.
type Producer struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// NewProducer creates a JetStream producer over an existing connection.
func NewProducer(conn *nats.Conn) (*Producer, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Producer{conn: conn, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (p *Producer) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	}

	stream, err := p.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PublishAsync publishes a message and returns a future that resolves once
// the stream has durably accepted it.
func (p *Producer) PublishAsync(ctx context.Context, subject string, data []byte) (jetstream.PubAckFuture, error) {
	return p.js.PublishAsync(subject, data)
}

// PublishSync publishes a message and waits for stream acknowledgment.
func (p *Producer) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return p.js.Publish(ctx, subject, data)
}

// Consumer returns a named durable consumer on a stream, creating it if
// needed.
func (p *Producer) Consumer(ctx context.Context, streamName, consumerName, filterSubject string) (jetstream.Consumer, error) {
	stream, err := p.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxAckPending: 1000,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", consumerName, err)
	}
	return consumer, nil
}

// Close drains the underlying connection.
func (p *Producer) Close() error {
	return p.conn.Drain()
}
