package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/viablekit/nervous-go/contracts"
)

// Dead-letter names, only declared when the topology is built with
// dead-lettering enabled.
const (
	DeadLetterExchange = "nervous.dlx"
	DeadLetterQueue    = "nervous.dlq"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is a complete set of exchanges, queues and bindings declared
// together during the declare phase.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// NervousTopology builds the fixed channel fabric: one exchange per
// channel, one queue per (system, channel) pair, the all-audit sink, and
// the bindings wiring them together. With deadLetter set, messages
// rejected by consumers land in a single dead-letter queue instead of
// being dropped.
func NervousTopology(deadLetter bool) Topology {
	var t Topology

	for _, ch := range contracts.Channels() {
		t.Exchanges = append(t.Exchanges, ExchangeDeclaration{
			Name:    ch.ExchangeName(),
			Kind:    string(ch.ExchangeKind()),
			Durable: true,
		})
	}

	if deadLetter {
		t.Exchanges = append(t.Exchanges, ExchangeDeclaration{
			Name:    DeadLetterExchange,
			Kind:    string(contracts.ExchangeFanout),
			Durable: true,
		})
		t.Queues = append(t.Queues, QueueDeclaration{
			Name:    DeadLetterQueue,
			Durable: true,
		})
		t.Bindings = append(t.Bindings, Binding{
			Queue:    DeadLetterQueue,
			Exchange: DeadLetterExchange,
		})
	}

	for _, sys := range contracts.AllSystems() {
		for _, ch := range contracts.Channels() {
			queue := contracts.QueueName(sys, ch)
			t.Queues = append(t.Queues, QueueDeclaration{
				Name:      queue,
				Durable:   true,
				Arguments: queueArguments(ch, deadLetter),
			})
			t.Bindings = append(t.Bindings, Binding{
				Queue:      queue,
				Exchange:   ch.ExchangeName(),
				RoutingKey: bindingKey(sys, ch),
			})
		}
	}

	t.Queues = append(t.Queues, QueueDeclaration{
		Name:      contracts.AllAuditQueue,
		Durable:   true,
		Arguments: queueArguments(contracts.ChannelAudit, deadLetter),
	})
	t.Bindings = append(t.Bindings, Binding{
		Queue:    contracts.AllAuditQueue,
		Exchange: contracts.ChannelAudit.ExchangeName(),
	})

	return t
}

// queueArguments returns the broker arguments for a channel's queues.
// Priority ceiling and message TTL are queue properties, so the algedonic
// guarantees are enforced here rather than on the exchange.
func queueArguments(ch contracts.Channel, deadLetter bool) amqp.Table {
	args := amqp.Table{}
	if max := ch.MaxPriority(); max > 0 {
		args["x-max-priority"] = int32(max)
	}
	if ttl := ch.MessageTTL(); ttl > 0 {
		args["x-message-ttl"] = int32(ttl.Milliseconds())
	}
	if deadLetter {
		args["x-dead-letter-exchange"] = DeadLetterExchange
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// bindingKey returns the pattern binding a system's queue to its channel
// exchange.
func bindingKey(sys contracts.SystemID, ch contracts.Channel) string {
	switch ch {
	case contracts.ChannelCommand:
		// Command keys are <to>.<level>.<type>; the queue takes every
		// command addressed to its system.
		return string(sys) + ".#"
	case contracts.ChannelAlgedonic:
		// Direct exchange, exact match on the system id.
		return string(sys)
	case contracts.ChannelAudit:
		// Fanout ignores the key.
		return ""
	default:
		// Horizontal and intel queues see all traffic; filtering is the
		// consumer's concern.
		return "#"
	}
}

// Declare creates every exchange, queue and binding on ch, in that order.
// Declarations are idempotent: redeclaring with identical properties is a
// no-op, while a property conflict comes back as the broker's error
// wrapped in a TopologyError.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.Exchanges {
		err := ch.ExchangeDeclare(
			ex.Name,
			ex.Kind,
			ex.Durable,
			ex.AutoDelete,
			false, // internal
			false, // no-wait
			ex.Arguments,
		)
		if err != nil {
			return &TopologyError{
				Component: "exchange",
				Name:      ex.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	for _, q := range t.Queues {
		_, err := ch.QueueDeclare(
			q.Name,
			q.Durable,
			q.AutoDelete,
			q.Exclusive,
			false, // no-wait
			q.Arguments,
		)
		if err != nil {
			return &TopologyError{
				Component: "queue",
				Name:      q.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	for _, b := range t.Bindings {
		err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, b.Arguments)
		if err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      b.Queue + " -> " + b.Exchange,
				Op:        "bind",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	return nil
}
