package contracts

import (
	"fmt"
	"time"
)

// Channel identifies one of the five semantically distinct communication
// paths of the nervous system. The zero value is ChannelCommand.
type Channel int

const (
	// ChannelCommand carries vertical directives between systems.
	ChannelCommand Channel = iota
	// ChannelAudit carries compliance and accountability reports,
	// fanned out to every system.
	ChannelAudit
	// ChannelAlgedonic carries pain/alert signals that bypass the command
	// hierarchy at maximum priority and a short lifetime.
	ChannelAlgedonic
	// ChannelHorizontal carries peer-to-peer coordination between
	// operational units.
	ChannelHorizontal
	// ChannelIntel carries environmental intelligence.
	ChannelIntel
)

// ExchangeKind is the broker exchange type backing a channel.
type ExchangeKind string

const (
	ExchangeTopic  ExchangeKind = "topic"
	ExchangeFanout ExchangeKind = "fanout"
	ExchangeDirect ExchangeKind = "direct"
)

// AlgedonicTTL is the fixed lifetime of every algedonic message. Signals
// older than this are stale by definition and the broker discards them.
const AlgedonicTTL = 60 * time.Second

// Channels returns all five channels in declaration order.
func Channels() []Channel {
	return []Channel{ChannelCommand, ChannelAudit, ChannelAlgedonic, ChannelHorizontal, ChannelIntel}
}

// String returns the short channel name used in logs, metrics labels and
// queue names.
func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "command"
	case ChannelAudit:
		return "audit"
	case ChannelAlgedonic:
		return "algedonic"
	case ChannelHorizontal:
		return "horizontal"
	case ChannelIntel:
		return "intel"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Valid reports whether c is one of the five defined channels.
func (c Channel) Valid() bool {
	return c >= ChannelCommand && c <= ChannelIntel
}

// ExchangeName returns the broker exchange backing this channel. These
// names are fixed wire contract.
func (c Channel) ExchangeName() string {
	return "nervous." + c.String()
}

// ExchangeKind returns the exchange type for this channel, which in turn
// determines the valid routing-key shape: topic channels use dotted
// wildcardable keys, fanout ignores the key, direct requires an exact match.
func (c Channel) ExchangeKind() ExchangeKind {
	switch c {
	case ChannelAudit:
		return ExchangeFanout
	case ChannelAlgedonic:
		return ExchangeDirect
	default:
		return ExchangeTopic
	}
}

// MaxPriority returns the per-message priority ceiling declared on the
// channel's exchange queues, or 0 when the channel does not use priorities
// at the queue level.
func (c Channel) MaxPriority() uint8 {
	if c == ChannelAlgedonic {
		return 255
	}
	return 0
}

// MessageTTL returns the per-message time-to-live enforced on the channel,
// or 0 when messages do not expire.
func (c Channel) MessageTTL() time.Duration {
	if c == ChannelAlgedonic {
		return AlgedonicTTL
	}
	return 0
}

// ChannelFromExchange maps an exchange name back to its channel. Consumers
// use the channel tag attached at bind time for dispatch; this lookup
// exists for tooling that only sees broker metadata.
func ChannelFromExchange(exchange string) (Channel, bool) {
	for _, c := range Channels() {
		if c.ExchangeName() == exchange {
			return c, true
		}
	}
	return 0, false
}
