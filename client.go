// Package nervous is a messaging substrate for the five communication
// channels of Beer's Viable System Model, built on RabbitMQ. The
// NervousSystem facade owns the connection pool, declares the channel
// topology, and hands out producers, consumers, and health monitors.
package nervous

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/viablekit/nervous-go/contracts"
	"github.com/viablekit/nervous-go/internal/rabbitmq"
	"github.com/viablekit/nervous-go/messaging"
	"github.com/viablekit/nervous-go/monitor"
)

// ErrNoConnection is returned when no broker connection is available.
var ErrNoConnection = rabbitmq.ErrNoConnection

// NervousSystem wires the pool, topology manager, producer, and monitor
// together. Create one per process and share it between systems.
type NervousSystem struct {
	cfg      Config
	logger   *slog.Logger
	pool     *rabbitmq.Pool
	manager  *rabbitmq.ChannelManager
	producer *messaging.Producer
	monitor  *monitor.ChannelMonitor

	mu      sync.Mutex
	started bool
	closed  bool
}

type options struct {
	logger   *slog.Logger
	registry prometheus.Registerer
}

// Option configures the nervous system.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPrometheus registers per-channel and per-queue metrics with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// New builds a nervous system from cfg. Nothing connects until Start.
func New(cfg Config, opts ...Option) (*NervousSystem, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Host == "" {
		return nil, errors.New("nervous: config host must not be empty")
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = rabbitmq.DefaultPoolSize
	}

	pool := rabbitmq.NewPool(cfg.URL(),
		rabbitmq.WithPoolSize(cfg.PoolSize),
		rabbitmq.WithPoolLogger(o.logger),
		rabbitmq.WithAMQPConfig(cfg.amqpConfig()),
	)

	manager := rabbitmq.NewChannelManager(pool,
		rabbitmq.WithManagerLogger(o.logger),
		rabbitmq.WithTopology(rabbitmq.NervousTopology(cfg.DeadLetter)),
	)

	monOpts := []monitor.MonitorOption{monitor.WithMonitorLogger(o.logger)}
	if o.registry != nil {
		monOpts = append(monOpts, monitor.WithPrometheus(o.registry))
	}
	mon := monitor.NewChannelMonitor(pool, pool, monOpts...)

	producer := messaging.NewProducer(manager,
		messaging.WithProducerLogger(o.logger),
		messaging.WithProducerMetrics(mon),
	)

	return &NervousSystem{
		cfg:      cfg,
		logger:   o.logger,
		pool:     pool,
		manager:  manager,
		producer: producer,
		monitor:  mon,
	}, nil
}

// Start connects the pool and begins declaring the topology. It returns
// immediately; use WaitReady to block until the topology exists.
func (ns *NervousSystem) Start(ctx context.Context) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.closed {
		return errors.New("nervous: system is closed")
	}
	if ns.started {
		return errors.New("nervous: system already started")
	}
	ns.started = true

	ns.logger.Info("nervous system starting",
		"url", rabbitmq.SanitizeURL(ns.cfg.URL()),
		"poolSize", ns.cfg.PoolSize,
		"deadLetter", ns.cfg.DeadLetter)

	ns.pool.Start()
	ns.manager.Start(ctx)
	ns.monitor.Start(ctx)
	return nil
}

// WaitReady blocks until the topology has been declared.
func (ns *NervousSystem) WaitReady(ctx context.Context) error {
	return ns.manager.WaitReady(ctx)
}

// Ready reports whether the topology has been declared.
func (ns *NervousSystem) Ready() bool {
	return ns.manager.Ready()
}

// Close stops the monitor, the topology manager, and the pool, in that
// order. It is safe to call more than once.
func (ns *NervousSystem) Close() error {
	ns.mu.Lock()
	if ns.closed {
		ns.mu.Unlock()
		return nil
	}
	ns.closed = true
	started := ns.started
	ns.mu.Unlock()

	if !started {
		return nil
	}

	ns.monitor.Stop()
	err := ns.manager.Close()
	if perr := ns.pool.Close(); err == nil {
		err = perr
	}
	ns.logger.Info("nervous system closed")
	return err
}

// SendCommand sends a vertical command from one system to another.
func (ns *NervousSystem) SendCommand(ctx context.Context, from, to contracts.SystemID, cmd contracts.Command, opts ...messaging.SendOption) error {
	return ns.producer.SendCommand(ctx, from, to, cmd, opts...)
}

// SendAudit broadcasts an audit report from system to every audit queue.
func (ns *NervousSystem) SendAudit(ctx context.Context, system contracts.SystemID, report contracts.AuditReport) error {
	return ns.producer.SendAudit(ctx, system, report)
}

// SendAlgedonic sends an emergency signal that bypasses the hierarchy.
func (ns *NervousSystem) SendAlgedonic(ctx context.Context, from, to contracts.SystemID, sig contracts.Signal, opts ...messaging.SendOption) error {
	return ns.producer.SendAlgedonic(ctx, from, to, sig, opts...)
}

// SendHorizontal shares data between operational units in a region.
func (ns *NervousSystem) SendHorizontal(ctx context.Context, fromUnit, region, messageType string, data any) error {
	return ns.producer.SendHorizontal(ctx, fromUnit, region, messageType, data)
}

// SendIntel publishes environmental intelligence at the given urgency.
func (ns *NervousSystem) SendIntel(ctx context.Context, source, intelType string, urgency contracts.Urgency, data any) error {
	return ns.producer.SendIntel(ctx, source, intelType, urgency, data)
}

// Producer returns the channel producer.
func (ns *NervousSystem) Producer() *messaging.Producer {
	return ns.producer
}

// Monitor returns the channel monitor.
func (ns *NervousSystem) Monitor() *monitor.ChannelMonitor {
	return ns.monitor
}

// Consumer builds a consumer for the given system's queues, sharing the
// facade's logger and metrics. The caller starts and stops it.
func (ns *NervousSystem) Consumer(system contracts.SystemID, handler messaging.ChannelHandler, opts ...messaging.ConsumerOption) *messaging.SystemConsumer {
	base := []messaging.ConsumerOption{
		messaging.WithConsumerLogger(ns.logger),
		messaging.WithConsumerMetrics(ns.monitor),
	}
	return messaging.NewSystemConsumer(ns.pool, system, handler, append(base, opts...)...)
}

// AuditMonitor builds the System 3 audit monitor, sharing the facade's
// logger and metrics. The caller starts and stops it.
func (ns *NervousSystem) AuditMonitor(opts ...messaging.AuditMonitorOption) *messaging.AuditMonitor {
	base := []messaging.AuditMonitorOption{
		messaging.WithAuditLogger(ns.logger),
		messaging.WithAuditMetrics(ns.monitor),
	}
	return messaging.NewAuditMonitor(ns.pool, ns.producer, append(base, opts...)...)
}

// Metrics returns a snapshot of per-channel counters and queue depths.
func (ns *NervousSystem) Metrics() monitor.Metrics {
	return ns.monitor.GetMetrics()
}

// ChannelHealth reports the health of one channel.
func (ns *NervousSystem) ChannelHealth(channel contracts.Channel) monitor.Health {
	return ns.monitor.ChannelHealth(channel)
}

// HealthHandler returns an HTTP handler serving the health snapshot.
func (ns *NervousSystem) HealthHandler() http.HandlerFunc {
	return ns.monitor.HealthHandler()
}
