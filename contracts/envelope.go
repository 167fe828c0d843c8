package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON body of every message on the nervous system.
// Priority, TTL and custom headers travel as AMQP properties, not in the
// body; the correlation id is mirrored into the AMQP correlation-id
// property so broker tooling can trace messages without decoding them.
type Envelope struct {
	// From identifies the sender: a system id on the vertical channels,
	// a unit id on the horizontal channel, a source id on intel.
	From string `json:"from"`
	// To identifies the receiver where the channel addresses one
	// (command, algedonic); empty on fanout and broadcast-style channels.
	To string `json:"to,omitempty"`
	// Payload is the opaque, channel-specific body.
	Payload json.RawMessage `json:"payload"`
	// Timestamp is assigned by the producer, never by the broker.
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID is unique per envelope and never reused.
	CorrelationID string `json:"correlationId"`
}

// NewEnvelope builds an envelope around payload, stamping the current UTC
// time and a fresh correlation id.
func NewEnvelope(from, to string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Envelope{
		From:          from,
		To:            to,
		Payload:       body,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}, nil
}

// DecodePayload unmarshals the opaque payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// PublishOptions carries the per-message attributes that ride outside the
// JSON body as AMQP properties. The zero value publishes with the
// defaults: application/json, persistent delivery, priority 0, no
// expiration.
type PublishOptions struct {
	// ContentType of the body.
	ContentType string
	// DeliveryMode is 1 for transient, 2 for persistent; zero means
	// persistent.
	DeliveryMode uint8
	Priority     Priority
	// TTL is the per-message expiration; zero means the message never
	// expires on the broker.
	TTL time.Duration
	// Headers become AMQP headers, visible to broker tooling without
	// decoding the body.
	Headers map[string]any
}

// Command is the payload of a command-channel message. Type becomes the
// last segment of the routing key.
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Signal is the payload of an algedonic message.
type Signal struct {
	Type     string `json:"type"`
	Severity string `json:"severity,omitempty"`
	Details  any    `json:"details,omitempty"`
}

// AuditReport is the payload of an audit-channel message. Metrics carries
// the numeric indicators the audit function inspects for anomalies.
type AuditReport struct {
	Kind     string             `json:"kind"`
	Critical bool               `json:"critical,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Details  any                `json:"details,omitempty"`
}
