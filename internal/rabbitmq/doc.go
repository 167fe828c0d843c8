// Package rabbitmq provides the broker layer of the nervous system.
//
// This package includes:
//   - Pool: Fixed-size set of supervised connections with checkout semantics
//   - ChannelManager: Topology declaration with wholesale retry and cached publish handles
//   - Topology: The nervous channel fabric of exchanges, queues and bindings
//
// The implementation favors predictability over throughput:
//   - Reconnection on a fixed interval, without backoff and without giving up
//   - Checkouts that block when all connections are busy rather than failing
//   - One declare phase that must succeed as a whole before anything publishes
//   - Publish failures surfaced to the caller, never retried internally
package rabbitmq
