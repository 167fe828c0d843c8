package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/viablekit/nervous-go/contracts"
)

// ChannelManager owns the declare phase and the per-channel publishing
// handles. The topology is declared as a whole before the manager reports
// ready; a partial declaration never counts. Publishes are serialized
// through the manager, one cached AMQP channel per nervous-system
// channel, reopened whenever the owning connection dies.
type ChannelManager struct {
	pool          *Pool
	topology      Topology
	logger        *slog.Logger
	retryInterval time.Duration

	// declare runs one declaration pass on a pooled connection.
	// Injectable so the retry ladder is testable without a broker.
	declare func(Conn, Topology) error

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	handles map[contracts.Channel]*amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ManagerOption configures a ChannelManager.
type ManagerOption func(*ChannelManager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *ChannelManager) {
		m.logger = logger
	}
}

// WithTopology replaces the default topology.
func WithTopology(t Topology) ManagerOption {
	return func(m *ChannelManager) {
		m.topology = t
	}
}

// WithManagerRetryInterval overrides the delay between declare attempts.
func WithManagerRetryInterval(d time.Duration) ManagerOption {
	return func(m *ChannelManager) {
		m.retryInterval = d
	}
}

// NewChannelManager creates a manager declaring the standard nervous
// topology over pool.
func NewChannelManager(pool *Pool, opts ...ManagerOption) *ChannelManager {
	m := &ChannelManager{
		pool:          pool,
		topology:      NervousTopology(false),
		logger:        slog.Default(),
		retryInterval: DefaultRetryInterval,
		declare:       declareOnConn,
		ready:         make(chan struct{}),
		handles:       make(map[contracts.Channel]*amqp.Channel),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// declareOnConn opens a short-lived channel on c and declares t through it.
func declareOnConn(c Conn, t Topology) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("open declare channel: %w", err)
	}
	defer ch.Close()
	return t.Declare(ch)
}

// Start launches the declare loop: the full topology is declared through
// a pooled connection, and any failure, including a property conflict on
// a redeclare, keeps the manager not-ready and schedules a wholesale
// retry on the fixed interval. The loop ends on the first success.
func (m *ChannelManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.declareLoop(ctx)
}

func (m *ChannelManager) declareLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		err := m.DeclareOnce(ctx)
		if err == nil {
			m.readyOnce.Do(func() { close(m.ready) })
			m.logger.Info("topology declared",
				"exchanges", len(m.topology.Exchanges),
				"queues", len(m.topology.Queues),
				"bindings", len(m.topology.Bindings))
			return
		}

		m.logger.Error("topology declaration failed",
			"error", err,
			"retryIn", m.retryInterval)
		select {
		case <-time.After(m.retryInterval):
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DeclareOnce runs a single declare pass and reports its outcome. Tools
// that want declare-and-exit semantics call it directly instead of Start.
func (m *ChannelManager) DeclareOnce(ctx context.Context) error {
	return m.pool.CheckoutAndRun(ctx, func(c Conn) error {
		return m.declare(c, m.topology)
	})
}

// Ready reports whether the declare phase has succeeded at least once.
func (m *ChannelManager) Ready() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the declare phase succeeds, ctx ends or the
// manager closes.
func (m *ChannelManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	case <-m.done:
		return ErrManagerClosed
	}
}

// Publish serializes env and publishes it to exchange with routingKey on
// the cached handle for channel. Defaults, application/json and
// persistent delivery, apply unless opts overrides them. A broker error
// drops the handle so the next publish reopens it, and reaches the caller
// wrapped in a PublishError; there is no retry here.
func (m *ChannelManager) Publish(ctx context.Context, channel contracts.Channel, exchange, routingKey string, env *contracts.Envelope, opts contracts.PublishOptions) error {
	if env == nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        errors.New("nil envelope"),
			Timestamp:  time.Now(),
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        fmt.Errorf("encode envelope: %w", err),
			Timestamp:  time.Now(),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return ErrManagerClosed
	default:
	}

	handle, err := m.handleLocked(ctx, channel)
	if err != nil {
		return err
	}

	pub := buildPublishing(body, env, opts)
	if err := handle.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		delete(m.handles, channel)
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// handleLocked returns the cached handle for channel, opening a new one
// over the pool when missing or when its owning connection died. The
// caller holds m.mu.
func (m *ChannelManager) handleLocked(ctx context.Context, channel contracts.Channel) (*amqp.Channel, error) {
	if h, ok := m.handles[channel]; ok && !h.IsClosed() {
		return h, nil
	}
	delete(m.handles, channel)

	var h *amqp.Channel
	err := m.pool.CheckoutAndRun(ctx, func(c Conn) error {
		var chErr error
		h, chErr = c.Channel()
		return chErr
	})
	if err != nil {
		return nil, err
	}
	m.handles[channel] = h
	m.logger.Debug("publish handle opened", "channel", channel.String())
	return h, nil
}

// buildPublishing maps an encoded envelope and its options onto the AMQP
// publishing, applying the defaults.
func buildPublishing(body []byte, env *contracts.Envelope, opts contracts.PublishOptions) amqp.Publishing {
	pub := amqp.Publishing{
		ContentType:   opts.ContentType,
		DeliveryMode:  opts.DeliveryMode,
		Priority:      uint8(opts.Priority),
		CorrelationId: env.CorrelationID,
		Timestamp:     env.Timestamp,
		Body:          body,
	}
	if pub.ContentType == "" {
		pub.ContentType = "application/json"
	}
	if pub.DeliveryMode == 0 {
		pub.DeliveryMode = amqp.Persistent
	}
	if opts.TTL > 0 {
		pub.Expiration = strconv.FormatInt(opts.TTL.Milliseconds(), 10)
	}
	if len(opts.Headers) > 0 {
		pub.Headers = amqp.Table(opts.Headers)
	}
	return pub
}

// Close stops the declare loop and closes every cached handle.
func (m *ChannelManager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, h := range m.handles {
		if !h.IsClosed() {
			if err := h.Close(); err != nil {
				m.logger.Debug("close publish handle",
					"channel", channel.String(),
					"error", err)
			}
		}
		delete(m.handles, channel)
	}
	return nil
}
