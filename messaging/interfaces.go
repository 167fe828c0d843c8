package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/viablekit/nervous-go/contracts"
)

// Publisher is the publish half of the channel manager, the only
// dependency the producer takes.
type Publisher interface {
	Publish(ctx context.Context, channel contracts.Channel, exchange, routingKey string, env *contracts.Envelope, opts contracts.PublishOptions) error
}

// ChannelOpener opens AMQP channels over pooled connections. The
// connection pool implements it.
type ChannelOpener interface {
	OpenChannel(ctx context.Context) (*amqp.Channel, error)
}

// MetricsRecorder observes per-channel traffic. The channel monitor
// implements it; NopMetrics is the default.
type MetricsRecorder interface {
	RecordSent(channel contracts.Channel)
	RecordReceived(channel contracts.Channel)
	RecordError(channel contracts.Channel, err error)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordSent(contracts.Channel) {}

func (NopMetrics) RecordReceived(contracts.Channel) {}

func (NopMetrics) RecordError(contracts.Channel, error) {}
