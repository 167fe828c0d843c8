package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics mirrors the monitor's counters and samples into a
// Prometheus registry so the daemon can expose them on /metrics.
type PromMetrics struct {
	sent           *prometheus.CounterVec
	received       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	queueMessages  *prometheus.GaugeVec
	queueConsumers *prometheus.GaugeVec
	poolUp         prometheus.Gauge
}

// WithPrometheus mirrors the counters and samples into reg.
func WithPrometheus(reg prometheus.Registerer) MonitorOption {
	return func(m *ChannelMonitor) {
		m.prom = NewPromMetrics(reg)
	}
}

// NewPromMetrics builds the collectors and registers them on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	pm := &PromMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nervous_messages_sent_total",
			Help: "Messages published per channel.",
		}, []string{"channel"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nervous_messages_received_total",
			Help: "Messages consumed per channel.",
		}, []string{"channel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nervous_channel_errors_total",
			Help: "Publish, decode and handler failures per channel.",
		}, []string{"channel"}),
		queueMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nervous_queue_messages",
			Help: "Sampled queue depth.",
		}, []string{"queue"}),
		queueConsumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nervous_queue_consumers",
			Help: "Sampled consumer count per queue.",
		}, []string{"queue"}),
		poolUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nervous_pool_up",
			Help: "1 when the connection pool reports a live connection.",
		}),
	}
	reg.MustRegister(pm.sent, pm.received, pm.errors, pm.queueMessages, pm.queueConsumers, pm.poolUp)
	return pm
}
