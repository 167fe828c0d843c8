package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viablekit/nervous-go/contracts"
)

// Producer publishes on the five nervous channels, building the envelope
// and routing key for each channel's grammar and stamping its priority
// class.
//
// Producers never retry. A publish error reaches the caller immediately,
// because only the caller knows whether the message is a routine report
// or a signal that must escalate through another path.
type Producer struct {
	publisher Publisher
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the producer's logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithProducerMetrics wires traffic counters.
func WithProducerMetrics(metrics MetricsRecorder) ProducerOption {
	return func(p *Producer) {
		p.metrics = metrics
	}
}

// NewProducer creates a producer publishing through publisher.
func NewProducer(publisher Publisher, opts ...ProducerOption) *Producer {
	p := &Producer{
		publisher: publisher,
		metrics:   NopMetrics{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SendOption adjusts a single send.
type SendOption func(*sendOptions)

type sendOptions struct {
	priority    contracts.Priority
	prioritySet bool
	headers     map[string]any
}

// WithPriority overrides the channel's default priority class. Algedonic
// sends ignore it; their priority is fixed at the maximum.
func WithPriority(p contracts.Priority) SendOption {
	return func(o *sendOptions) {
		o.priority = p
		o.prioritySet = true
	}
}

// WithHeaders attaches extra AMQP headers to the message.
func WithHeaders(headers map[string]any) SendOption {
	return func(o *sendOptions) {
		if o.headers == nil {
			o.headers = make(map[string]any, len(headers))
		}
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

func applySendOptions(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SendCommand publishes cmd from one system to another on the command
// channel. The routing key is <to>.<level>.<type>, where level reflects
// the sender's position relative to the receiver in the hierarchy.
func (p *Producer) SendCommand(ctx context.Context, from, to contracts.SystemID, cmd contracts.Command, opts ...SendOption) error {
	if cmd.Type == "" {
		return fmt.Errorf("nervous: command type is empty")
	}
	o := applySendOptions(opts)
	priority := contracts.PriorityCommandNormal
	if o.prioritySet {
		priority = o.priority
	}

	level := contracts.CommandLevelBetween(from, to)
	key := fmt.Sprintf("%s.%s.%s", to, level, cmd.Type)
	return p.publish(ctx, contracts.ChannelCommand, key, string(from), string(to), cmd, contracts.PublishOptions{
		Priority: priority,
		Headers:  o.headers,
	})
}

// SendAudit fans report out on the audit exchange: every per-system audit
// queue and the all-audit sink receive their own copy. Critical reports
// ride at the audit-critical priority class.
func (p *Producer) SendAudit(ctx context.Context, system contracts.SystemID, report contracts.AuditReport) error {
	if report.Kind == "" {
		return fmt.Errorf("nervous: audit report kind is empty")
	}
	var opts contracts.PublishOptions
	if report.Critical {
		opts.Priority = contracts.PriorityAuditCritical
	}
	return p.publish(ctx, contracts.ChannelAudit, "", string(system), "", report, opts)
}

// SendAlgedonic publishes sig straight to one system at the maximum
// priority with a fixed sixty-second lifetime. Caller options cannot
// lower either: the algedonic channel is the bypass of the command
// hierarchy, and a pain signal is always maximal and always short-lived.
func (p *Producer) SendAlgedonic(ctx context.Context, from, to contracts.SystemID, sig contracts.Signal, opts ...SendOption) error {
	if sig.Type == "" {
		return fmt.Errorf("nervous: signal type is empty")
	}
	o := applySendOptions(opts)
	return p.publish(ctx, contracts.ChannelAlgedonic, string(to), string(from), string(to), sig, contracts.PublishOptions{
		Priority: contracts.PriorityAlgedonic,
		TTL:      contracts.AlgedonicTTL,
		Headers:  o.headers,
	})
}

// SendHorizontal publishes coordination data between operational units at
// the lowest priority class. The routing key is <unit>.<region>.<type>.
func (p *Producer) SendHorizontal(ctx context.Context, fromUnit, region, messageType string, data any) error {
	if fromUnit == "" || region == "" || messageType == "" {
		return fmt.Errorf("nervous: horizontal key segments must not be empty")
	}
	key := fmt.Sprintf("%s.%s.%s", fromUnit, region, messageType)
	return p.publish(ctx, contracts.ChannelHorizontal, key, fromUnit, "", data, contracts.PublishOptions{
		Priority: contracts.PriorityHorizontal,
	})
}

// SendIntel publishes environmental intelligence with the routing key
// <source>.<type>.<urgency>; urgency picks the priority class.
func (p *Producer) SendIntel(ctx context.Context, source, intelType string, urgency contracts.Urgency, data any) error {
	if source == "" || intelType == "" {
		return fmt.Errorf("nervous: intel key segments must not be empty")
	}
	key := fmt.Sprintf("%s.%s.%s", source, intelType, urgency)
	return p.publish(ctx, contracts.ChannelIntel, key, source, "", data, contracts.PublishOptions{
		Priority: urgency.Priority(),
	})
}

func (p *Producer) publish(ctx context.Context, channel contracts.Channel, routingKey, from, to string, payload any, opts contracts.PublishOptions) error {
	env, err := contracts.NewEnvelope(from, to, payload)
	if err != nil {
		p.metrics.RecordError(channel, err)
		return err
	}

	if err := p.publisher.Publish(ctx, channel, channel.ExchangeName(), routingKey, env, opts); err != nil {
		p.metrics.RecordError(channel, err)
		return err
	}

	p.metrics.RecordSent(channel)
	p.logger.Debug("message published",
		"channel", channel.String(),
		"routingKey", routingKey,
		"priority", uint8(opts.Priority),
		"correlationId", env.CorrelationID)
	return nil
}
