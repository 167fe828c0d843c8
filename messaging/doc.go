// Package messaging provides the producer and consumer sides of the
// nervous-system channels.
//
// This package includes:
//   - Producer: Channel-aware publishing with per-channel routing grammars and priority classes
//   - SystemConsumer: One system's subscriptions with prefetch, dispatch by channel and self-healing resubscription
//   - ChannelHandler: The per-channel handler contract, with BaseHandler for partial implementations
//   - AuditMonitor: System 3's audit role, anomaly escalation and the compliance sweep
//
// Two rules shape the package:
//   - Producers never retry; a publish error belongs to the caller that holds the message
//   - Consumers always acknowledge after the handler returns; failure is signalled through
//     side effects such as audit reports or algedonic signals, never through redelivery
package messaging
