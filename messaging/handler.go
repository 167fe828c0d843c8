package messaging

import (
	"context"

	"github.com/viablekit/nervous-go/contracts"
)

// Meta is the delivery metadata handed to handlers alongside the decoded
// envelope.
type Meta struct {
	// Channel the subscription was bound to. It is attached when the
	// subscription is created, so dispatch never guesses from names.
	Channel contracts.Channel
	// Queue the message was consumed from.
	Queue string
	// Exchange and RoutingKey as stamped on the delivery.
	Exchange   string
	RoutingKey string
	// DeliveryTag identifies the delivery on its AMQP channel.
	DeliveryTag uint64
}

// ChannelHandler receives decoded messages routed by originating channel.
//
// A handler error is logged and counted but never blocks acknowledgment:
// a message that reached a handler is consumed, and application-level
// failure is signalled through the handler's own side effects, typically
// an audit report or an algedonic signal, not through redelivery.
type ChannelHandler interface {
	HandleCommand(ctx context.Context, env *contracts.Envelope, meta Meta) error
	HandleAudit(ctx context.Context, env *contracts.Envelope, meta Meta) error
	HandleAlgedonic(ctx context.Context, env *contracts.Envelope, meta Meta) error
	HandleHorizontal(ctx context.Context, env *contracts.Envelope, meta Meta) error
	HandleIntel(ctx context.Context, env *contracts.Envelope, meta Meta) error
}

// BaseHandler is a no-op ChannelHandler. Concrete handlers embed it and
// override only the channels they care about.
type BaseHandler struct{}

func (BaseHandler) HandleCommand(context.Context, *contracts.Envelope, Meta) error {
	return nil
}

func (BaseHandler) HandleAudit(context.Context, *contracts.Envelope, Meta) error {
	return nil
}

func (BaseHandler) HandleAlgedonic(context.Context, *contracts.Envelope, Meta) error {
	return nil
}

func (BaseHandler) HandleHorizontal(context.Context, *contracts.Envelope, Meta) error {
	return nil
}

func (BaseHandler) HandleIntel(context.Context, *contracts.Envelope, Meta) error {
	return nil
}
