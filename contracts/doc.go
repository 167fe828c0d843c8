// Package contracts defines the shared vocabulary of the nervous system:
// the five communication channels, the system identities of the Viable
// System Model, the signal priority table, and the message envelope that
// travels on the wire.
//
// The package holds data only:
//   - Channel: one of Command, Audit, Algedonic, Horizontal, Intel
//   - SystemID: System1..System5 with their hierarchy levels
//   - Priority: the constant signal-class priority table
//   - Envelope: the JSON body every published message carries
//
// Broker plumbing lives in internal/rabbitmq, producer and consumer
// behavior in messaging. Everything here is wire contract: exchange names,
// queue naming, priorities and the envelope shape must match any existing
// deployment bit for bit.
package contracts
