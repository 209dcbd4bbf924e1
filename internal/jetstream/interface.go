package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the JetStream surface the intake consumer and DLQ
// worker program against; the mock package implements it for tests.
type ClientInterface interface {
	// SetupStream ensures the stream exists and carries the given config.
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// SetupConsumer ensures the durable consumer exists on streamName.
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// Subscribe subscribes to a subject with a durable consumer.
	Subscribe(subject, consumer, group string, handler nats.MsgHandler) (*nats.Subscription, error)

	// SubscribePush creates a push-based queue subscription bound to stream.
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)

	// SubscribePull creates a pull-based subscription bound to streamName.
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)

	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error

	// Close drains and closes the NATS connection.
	Close()

	// NatsConn returns the underlying *nats.Conn.
	NatsConn() *nats.Conn
}
