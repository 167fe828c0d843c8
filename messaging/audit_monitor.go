package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/viablekit/nervous-go/contracts"
)

// Audit anomaly ceilings. A report crossing any of them escalates off the
// audit channel.
const (
	maxErrorRate      = 0.5
	maxResponseTimeMS = 5000
	maxResourceUsage  = 0.9
)

var auditThresholds = []struct {
	metric string
	limit  float64
}{
	{"error_rate", maxErrorRate},
	{"response_time_ms", maxResponseTimeMS},
	{"resource_usage", maxResourceUsage},
}

// compliancePeers are the systems swept for compliance status.
var compliancePeers = []contracts.SystemID{
	contracts.System1,
	contracts.System2,
	contracts.System4,
}

// DefaultSweepInterval is the cadence of the compliance sweep.
const DefaultSweepInterval = 60 * time.Second

// AuditMonitor is System 3's audit role: a SystemConsumer over the
// system's queues plus the all-audit sink, threshold checks on every
// audit report, and a periodic compliance sweep. Base dispatch and
// acknowledgment behavior are untouched; the monitor only adds what it
// does with the reports.
type AuditMonitor struct {
	BaseHandler

	producer *Producer
	logger   *slog.Logger
	metrics  MetricsRecorder
	interval time.Duration
	consumer *SystemConsumer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// AuditMonitorOption configures an AuditMonitor.
type AuditMonitorOption func(*AuditMonitor)

// WithSweepInterval overrides the compliance sweep cadence.
func WithSweepInterval(d time.Duration) AuditMonitorOption {
	return func(am *AuditMonitor) {
		am.interval = d
	}
}

// WithAuditLogger sets the monitor's logger.
func WithAuditLogger(logger *slog.Logger) AuditMonitorOption {
	return func(am *AuditMonitor) {
		am.logger = logger
	}
}

// WithAuditMetrics wires traffic counters into the underlying consumer.
func WithAuditMetrics(metrics MetricsRecorder) AuditMonitorOption {
	return func(am *AuditMonitor) {
		am.metrics = metrics
	}
}

// NewAuditMonitor builds the audit role over opener and producer. The
// underlying consumer takes System 3's five queues and the all-audit
// sink, so the monitor sees every report in the organization.
func NewAuditMonitor(opener ChannelOpener, producer *Producer, opts ...AuditMonitorOption) *AuditMonitor {
	am := &AuditMonitor{
		producer: producer,
		logger:   slog.Default(),
		metrics:  NopMetrics{},
		interval: DefaultSweepInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(am)
	}

	queues := append(contracts.SystemQueues(contracts.System3), contracts.AllAuditQueue)
	am.consumer = NewSystemConsumer(opener, contracts.System3, am,
		WithQueues(queues...),
		WithConsumerLogger(am.logger),
		WithConsumerMetrics(am.metrics),
	)
	return am
}

// Start begins consuming and launches the compliance sweep loop.
func (am *AuditMonitor) Start(ctx context.Context) error {
	if err := am.consumer.Start(ctx); err != nil {
		return err
	}
	am.wg.Add(1)
	go am.sweepLoop(ctx)
	return nil
}

// Stop ends the sweep loop, then the underlying consumer.
func (am *AuditMonitor) Stop() {
	am.closeOnce.Do(func() { close(am.done) })
	am.wg.Wait()
	am.consumer.Stop()
}

// HandleAudit checks the report's metrics against the anomaly ceilings.
// Any crossing raises one algedonic signal to System 4 and System 5
// concurrently; a failed escalation to one recipient does not stop the
// other.
func (am *AuditMonitor) HandleAudit(ctx context.Context, env *contracts.Envelope, meta Meta) error {
	var report contracts.AuditReport
	if err := env.DecodePayload(&report); err != nil {
		return fmt.Errorf("decode audit report: %w", err)
	}

	anomalies := findAnomalies(report.Metrics)
	if len(anomalies) == 0 {
		return nil
	}

	am.logger.Warn("audit anomaly detected",
		"source", env.From,
		"kind", report.Kind,
		"anomalies", anomalies)

	sig := contracts.Signal{
		Type:     "audit_anomaly",
		Severity: "critical",
		Details: map[string]any{
			"source":    env.From,
			"kind":      report.Kind,
			"anomalies": anomalies,
			"metrics":   report.Metrics,
		},
	}

	var g errgroup.Group
	for _, to := range []contracts.SystemID{contracts.System4, contracts.System5} {
		to := to
		g.Go(func() error {
			return am.producer.SendAlgedonic(ctx, contracts.System3, to, sig)
		})
	}
	return g.Wait()
}

func (am *AuditMonitor) sweepLoop(ctx context.Context) {
	defer am.wg.Done()
	ticker := time.NewTicker(am.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			am.sweep(ctx)
		case <-am.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep asks the peer systems for their compliance status. Responses come
// back as ordinary audit reports and flow through HandleAudit like any
// other.
func (am *AuditMonitor) sweep(ctx context.Context) {
	for _, peer := range compliancePeers {
		cmd := contracts.Command{
			Type:   "status_request",
			Params: map[string]any{"status_type": "compliance"},
		}
		if err := am.producer.SendCommand(ctx, contracts.System3, peer, cmd); err != nil {
			am.logger.Error("compliance sweep request failed",
				"peer", string(peer),
				"error", err)
		}
	}
}

// findAnomalies returns the name of every metric over its ceiling.
func findAnomalies(metrics map[string]float64) []string {
	var anomalies []string
	for _, t := range auditThresholds {
		if v, ok := metrics[t.metric]; ok && v > t.limit {
			anomalies = append(anomalies, t.metric)
		}
	}
	return anomalies
}
