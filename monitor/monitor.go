// Package monitor provides continuous channel telemetry: traffic
// counters, queue depth sampling, health probing and the Prometheus
// mirror of all three.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/viablekit/nervous-go/contracts"
)

// Health is a channel health state.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthUnknown  Health = "unknown"
)

const (
	// DefaultCollectInterval is the queue sampling cadence.
	DefaultCollectInterval = 10 * time.Second
	// DefaultHealthInterval is the liveness probe cadence.
	DefaultHealthInterval = 30 * time.Second
)

// Pinger is the pool's liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueInspector samples queue depth and consumer count from the broker.
type QueueInspector interface {
	QueueInspect(ctx context.Context, queue string) (amqp.Queue, error)
}

// QueueDepth is one queue's sampled backlog.
type QueueDepth struct {
	Queue     string `json:"queue"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// ChannelMetrics is one channel's slice of a snapshot.
type ChannelMetrics struct {
	Channel           string       `json:"channel"`
	Sent              int64        `json:"sent"`
	Received          int64        `json:"received"`
	Errors            int64        `json:"errors"`
	LastError         string       `json:"lastError,omitempty"`
	LastErrorAt       *time.Time   `json:"lastErrorAt,omitempty"`
	SentPerSecond     float64      `json:"sentPerSecond"`
	ReceivedPerSecond float64      `json:"receivedPerSecond"`
	Queues            []QueueDepth `json:"queues,omitempty"`
	Health            Health       `json:"health"`
}

// Metrics is a full snapshot across all channels.
type Metrics struct {
	Channels    map[string]ChannelMetrics `json:"channels"`
	Overall     Health                    `json:"overall"`
	CollectedAt time.Time                 `json:"collectedAt"`
}

type channelCounters struct {
	sent      int64
	received  int64
	errors    int64
	lastErr   string
	lastErrAt time.Time
}

// ChannelMonitor accumulates per-channel traffic counters and runs two
// sampling loops against the broker: one collecting queue depths, one
// probing pool liveness. Health is coarse on purpose; the pool is the
// only liveness signal available, so every channel is marked together.
type ChannelMonitor struct {
	pinger    Pinger
	inspector QueueInspector
	queues    []string
	logger    *slog.Logger
	prom      *PromMetrics

	collectInterval time.Duration
	healthInterval  time.Duration

	start time.Time

	mu       sync.RWMutex
	counters map[contracts.Channel]*channelCounters
	health   map[contracts.Channel]Health
	depths   map[contracts.Channel][]QueueDepth

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// MonitorOption configures a ChannelMonitor.
type MonitorOption func(*ChannelMonitor)

// WithMonitorLogger sets the monitor's logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *ChannelMonitor) {
		m.logger = logger
	}
}

// WithCollectInterval overrides the queue sampling cadence.
func WithCollectInterval(d time.Duration) MonitorOption {
	return func(m *ChannelMonitor) {
		m.collectInterval = d
	}
}

// WithHealthInterval overrides the liveness probe cadence.
func WithHealthInterval(d time.Duration) MonitorOption {
	return func(m *ChannelMonitor) {
		m.healthInterval = d
	}
}

// WithMonitorQueues replaces the sampled queue set.
func WithMonitorQueues(queues ...string) MonitorOption {
	return func(m *ChannelMonitor) {
		m.queues = queues
	}
}

// NewChannelMonitor creates a monitor probing pinger and sampling
// inspector. The queue set defaults to the full topology.
func NewChannelMonitor(pinger Pinger, inspector QueueInspector, opts ...MonitorOption) *ChannelMonitor {
	m := &ChannelMonitor{
		pinger:          pinger,
		inspector:       inspector,
		queues:          contracts.AllQueues(),
		logger:          slog.Default(),
		collectInterval: DefaultCollectInterval,
		healthInterval:  DefaultHealthInterval,
		start:           time.Now(),
		counters:        make(map[contracts.Channel]*channelCounters),
		health:          make(map[contracts.Channel]Health),
		depths:          make(map[contracts.Channel][]QueueDepth),
		done:            make(chan struct{}),
	}
	for _, ch := range contracts.Channels() {
		m.counters[ch] = &channelCounters{}
		m.health[ch] = HealthUnknown
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the collection and health loops.
func (m *ChannelMonitor) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.collectLoop(ctx)
	go m.healthLoop(ctx)
}

// Stop ends both loops.
func (m *ChannelMonitor) Stop() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// RecordSent counts one outbound message on channel.
func (m *ChannelMonitor) RecordSent(channel contracts.Channel) {
	m.mu.Lock()
	m.counterLocked(channel).sent++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.sent.WithLabelValues(channel.String()).Inc()
	}
}

// RecordReceived counts one inbound message on channel.
func (m *ChannelMonitor) RecordReceived(channel contracts.Channel) {
	m.mu.Lock()
	m.counterLocked(channel).received++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.received.WithLabelValues(channel.String()).Inc()
	}
}

// RecordError counts one failure on channel and keeps the latest message.
func (m *ChannelMonitor) RecordError(channel contracts.Channel, err error) {
	m.mu.Lock()
	ctr := m.counterLocked(channel)
	ctr.errors++
	if err != nil {
		ctr.lastErr = err.Error()
		ctr.lastErrAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.errors.WithLabelValues(channel.String()).Inc()
	}
}

func (m *ChannelMonitor) counterLocked(channel contracts.Channel) *channelCounters {
	ctr, ok := m.counters[channel]
	if !ok {
		ctr = &channelCounters{}
		m.counters[channel] = ctr
	}
	return ctr
}

// GetMetrics returns the counters, throughput since start, latest queue
// samples and health for every channel, plus the overall rollup.
func (m *ChannelMonitor) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.start).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	out := Metrics{
		Channels:    make(map[string]ChannelMetrics, len(m.counters)),
		Overall:     m.overallLocked(),
		CollectedAt: time.Now().UTC(),
	}
	for _, channel := range contracts.Channels() {
		ctr := m.counters[channel]
		cm := ChannelMetrics{
			Channel:           channel.String(),
			Sent:              ctr.sent,
			Received:          ctr.received,
			Errors:            ctr.errors,
			LastError:         ctr.lastErr,
			SentPerSecond:     float64(ctr.sent) / elapsed,
			ReceivedPerSecond: float64(ctr.received) / elapsed,
			Queues:            append([]QueueDepth(nil), m.depths[channel]...),
			Health:            m.health[channel],
		}
		if !ctr.lastErrAt.IsZero() {
			at := ctr.lastErrAt
			cm.LastErrorAt = &at
		}
		out.Channels[channel.String()] = cm
	}
	return out
}

// ChannelHealth returns one channel's health.
func (m *ChannelMonitor) ChannelHealth(channel contracts.Channel) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[channel]; ok {
		return h
	}
	return HealthUnknown
}

// OverallHealth rolls the per-channel states up: healthy only when every
// channel is healthy, degraded as soon as one is, unknown before the
// first probe.
func (m *ChannelMonitor) OverallHealth() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *ChannelMonitor) overallLocked() Health {
	healthy := 0
	for _, channel := range contracts.Channels() {
		switch m.health[channel] {
		case HealthDegraded:
			return HealthDegraded
		case HealthHealthy:
			healthy++
		}
	}
	if healthy == len(contracts.Channels()) {
		return HealthHealthy
	}
	return HealthUnknown
}

// CheckHealth probes the pool once and marks every channel together: the
// pool is the only liveness signal, so failures are not attributed to
// individual channels.
func (m *ChannelMonitor) CheckHealth(ctx context.Context) Health {
	status := HealthHealthy
	if err := m.pinger.Ping(ctx); err != nil {
		status = HealthDegraded
		m.logger.Warn("pool liveness probe failed", "error", err)
	}

	m.mu.Lock()
	for _, channel := range contracts.Channels() {
		m.health[channel] = status
	}
	m.mu.Unlock()

	if m.prom != nil {
		up := 0.0
		if status == HealthHealthy {
			up = 1.0
		}
		m.prom.poolUp.Set(up)
	}
	return status
}

// CollectNow samples every known queue once. A queue that cannot be
// inspected is skipped and logged; one missing queue must not stall the
// rest of the sample.
func (m *ChannelMonitor) CollectNow(ctx context.Context) {
	depths := make(map[contracts.Channel][]QueueDepth)
	for _, queue := range m.queues {
		channel, ok := contracts.ChannelFromQueue(queue)
		if !ok {
			continue
		}
		q, err := m.inspector.QueueInspect(ctx, queue)
		if err != nil {
			m.logger.Debug("queue inspection failed", "queue", queue, "error", err)
			continue
		}
		depths[channel] = append(depths[channel], QueueDepth{
			Queue:     q.Name,
			Messages:  q.Messages,
			Consumers: q.Consumers,
		})
		if m.prom != nil {
			m.prom.queueMessages.WithLabelValues(queue).Set(float64(q.Messages))
			m.prom.queueConsumers.WithLabelValues(queue).Set(float64(q.Consumers))
		}
	}

	m.mu.Lock()
	m.depths = depths
	m.mu.Unlock()
}

func (m *ChannelMonitor) collectLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.collectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CollectNow(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *ChannelMonitor) healthLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckHealth(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HealthHandler serves the current rollup as JSON, 200 when healthy or
// unknown, 503 when degraded.
func (m *ChannelMonitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.GetMetrics()
		code := http.StatusOK
		if snapshot.Overall == HealthDegraded {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status":   snapshot.Overall,
			"channels": snapshot.Channels,
		}); err != nil {
			m.logger.Error("failed to encode health response", "error", err)
		}
	}
}
