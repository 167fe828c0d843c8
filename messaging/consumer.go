package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/viablekit/nervous-go/contracts"
)

const (
	// DefaultPrefetch bounds unacknowledged deliveries per consumer.
	DefaultPrefetch = 10

	// DefaultResubscribeInterval is the fixed delay before a failed or
	// dropped subscription is rebuilt.
	DefaultResubscribeInterval = 5 * time.Second
)

// SystemConsumer subscribes one system to its nervous-system queues and
// dispatches inbound messages to a ChannelHandler by originating channel.
//
// Setup failures and delivery streams that die with their connection are
// retried on a fixed interval forever; the consumer never gives up on its
// queues. Within one subscription, messages from one queue are handled in
// delivery order.
type SystemConsumer struct {
	system        contracts.SystemID
	queues        []string
	handler       ChannelHandler
	opener        ChannelOpener
	metrics       MetricsRecorder
	logger        *slog.Logger
	prefetch      int
	retryInterval time.Duration

	mu      sync.Mutex
	ch      *amqp.Channel
	tags    []string
	started bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ConsumerOption configures a SystemConsumer.
type ConsumerOption func(*SystemConsumer)

// WithQueues replaces the default queue set. Every queue must map to a
// nervous channel.
func WithQueues(queues ...string) ConsumerOption {
	return func(c *SystemConsumer) {
		c.queues = queues
	}
}

// WithPrefetch adjusts the unacknowledged-delivery window.
func WithPrefetch(n int) ConsumerOption {
	return func(c *SystemConsumer) {
		c.prefetch = n
	}
}

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *SystemConsumer) {
		c.logger = logger
	}
}

// WithConsumerMetrics wires traffic counters.
func WithConsumerMetrics(metrics MetricsRecorder) ConsumerOption {
	return func(c *SystemConsumer) {
		c.metrics = metrics
	}
}

// WithConsumerRetryInterval overrides the resubscribe interval.
func WithConsumerRetryInterval(d time.Duration) ConsumerOption {
	return func(c *SystemConsumer) {
		c.retryInterval = d
	}
}

// NewSystemConsumer builds a consumer for system delivering to handler.
// The queue set defaults to the system's five per-channel queues.
func NewSystemConsumer(opener ChannelOpener, system contracts.SystemID, handler ChannelHandler, opts ...ConsumerOption) *SystemConsumer {
	c := &SystemConsumer{
		system:        system,
		queues:        contracts.SystemQueues(system),
		handler:       handler,
		opener:        opener,
		metrics:       NopMetrics{},
		logger:        slog.Default(),
		prefetch:      DefaultPrefetch,
		retryInterval: DefaultResubscribeInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns the system this consumer serves.
func (c *SystemConsumer) System() contracts.SystemID {
	return c.system
}

// Start launches the subscription supervisor and returns immediately; the
// first subscribe attempt and every retry happen in the background.
func (c *SystemConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("nervous: consumer for %s already started", c.system)
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.supervise(ctx)
	return nil
}

// Stop cancels the subscriptions, closes the consumer channel and waits
// for the delivery loops to drain. It can be called more than once.
func (c *SystemConsumer) Stop() {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	ch := c.ch
	tags := c.tags
	c.ch = nil
	c.tags = nil
	c.mu.Unlock()

	if ch != nil {
		for _, tag := range tags {
			if err := ch.Cancel(tag, false); err != nil {
				c.logger.Debug("cancel consumer", "tag", tag, "error", err)
			}
		}
		if err := ch.Close(); err != nil {
			c.logger.Debug("close consumer channel", "error", err)
		}
	}
	c.wg.Wait()
}

func (c *SystemConsumer) supervise(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		closed, err := c.subscribe(ctx)
		if err != nil {
			c.logger.Error("subscription setup failed",
				"system", string(c.system),
				"error", err,
				"retryIn", c.retryInterval)
			if !c.sleepRetry(ctx) {
				return
			}
			continue
		}

		c.logger.Info("consuming",
			"system", string(c.system),
			"queues", len(c.queues),
			"prefetch", c.prefetch)

		select {
		case <-closed:
			c.logger.Warn("consumer channel lost, resubscribing",
				"system", string(c.system),
				"retryIn", c.retryInterval)
			if !c.sleepRetry(ctx) {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// subscribe opens one channel, applies the prefetch window and starts a
// delivery loop per queue. The returned channel closes when the AMQP
// channel dies, taking every subscription with it.
func (c *SystemConsumer) subscribe(ctx context.Context) (<-chan *amqp.Error, error) {
	ch, err := c.opener.OpenChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	var tags []string
	for _, queue := range c.queues {
		channel, ok := contracts.ChannelFromQueue(queue)
		if !ok {
			ch.Close()
			return nil, fmt.Errorf("queue %q does not map to a nervous channel", queue)
		}

		tag := fmt.Sprintf("%s.%s", queue, uuid.NewString()[:8])
		deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("consume %s: %w", queue, err)
		}
		tags = append(tags, tag)

		c.wg.Add(1)
		go c.consume(ctx, channel, queue, deliveries)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		// Stop ran mid-setup and could not see this channel; closing it
		// here drains the delivery loops it started.
		c.mu.Unlock()
		ch.Close()
		return closed, nil
	default:
	}
	c.ch = ch
	c.tags = tags
	c.mu.Unlock()
	return closed, nil
}

// consume drains one queue's delivery stream. Handlers run synchronously,
// so a slow handler delays later deliveries on this consumer, bounded by
// the prefetch window.
func (c *SystemConsumer) consume(ctx context.Context, channel contracts.Channel, queue string, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for delivery := range deliveries {
		c.handleDelivery(ctx, channel, queue, delivery)
	}
}

// handleDelivery decodes and dispatches one message. A well-formed
// message is acknowledged exactly once after the handler returns,
// whatever the handler's result. An undecodable one is rejected without
// requeue, which drops it, or dead-letters it in a dead-lettered
// topology; requeueing would only recycle the same poison message.
func (c *SystemConsumer) handleDelivery(ctx context.Context, channel contracts.Channel, queue string, delivery amqp.Delivery) {
	var env contracts.Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		c.metrics.RecordError(channel, err)
		c.logger.Error("rejecting undecodable message",
			"system", string(c.system),
			"queue", queue,
			"error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("reject failed", "queue", queue, "error", nackErr)
		}
		return
	}

	c.metrics.RecordReceived(channel)
	meta := Meta{
		Channel:     channel,
		Queue:       queue,
		Exchange:    delivery.Exchange,
		RoutingKey:  delivery.RoutingKey,
		DeliveryTag: delivery.DeliveryTag,
	}

	if err := c.dispatch(ctx, &env, meta); err != nil {
		c.metrics.RecordError(channel, err)
		c.logger.Error("handler failed",
			"system", string(c.system),
			"channel", channel.String(),
			"queue", queue,
			"correlationId", env.CorrelationID,
			"error", err)
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("ack failed", "queue", queue, "error", err)
	}
}

func (c *SystemConsumer) dispatch(ctx context.Context, env *contracts.Envelope, meta Meta) error {
	switch meta.Channel {
	case contracts.ChannelCommand:
		return c.handler.HandleCommand(ctx, env, meta)
	case contracts.ChannelAudit:
		return c.handler.HandleAudit(ctx, env, meta)
	case contracts.ChannelAlgedonic:
		return c.handler.HandleAlgedonic(ctx, env, meta)
	case contracts.ChannelHorizontal:
		return c.handler.HandleHorizontal(ctx, env, meta)
	case contracts.ChannelIntel:
		return c.handler.HandleIntel(ctx, env, meta)
	default:
		return fmt.Errorf("no handler for channel %v", meta.Channel)
	}
}

// sleepRetry waits one retry interval; false means the consumer stopped.
func (c *SystemConsumer) sleepRetry(ctx context.Context) bool {
	select {
	case <-time.After(c.retryInterval):
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}
