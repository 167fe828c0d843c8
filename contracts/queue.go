package contracts

import "strings"

// AllAuditQueue is the universal audit sink. It is bound to the audit
// fanout exchange alongside the per-system audit queues so System 3 sees
// every report regardless of which system consumes its own copy.
const AllAuditQueue = "nervous.system3.audit.all"

// QueueName returns the queue owned by the (system, channel) pair.
func QueueName(system SystemID, channel Channel) string {
	return "nervous." + string(system) + "." + channel.String()
}

// SystemQueues returns the five queues a system consumes from, one per
// channel, in channel order.
func SystemQueues(system SystemID) []string {
	channels := Channels()
	queues := make([]string, 0, len(channels))
	for _, ch := range channels {
		queues = append(queues, QueueName(system, ch))
	}
	return queues
}

// AllQueues returns every queue in the topology: one per (system, channel)
// pair plus the all-audit sink.
func AllQueues() []string {
	var queues []string
	for _, sys := range AllSystems() {
		queues = append(queues, SystemQueues(sys)...)
	}
	return append(queues, AllAuditQueue)
}

// ChannelFromQueue maps a queue name back to the channel it is bound to.
// Consumers resolve this once when a subscription is created and attach
// the result to it; per-message dispatch never parses names.
func ChannelFromQueue(queue string) (Channel, bool) {
	parts := strings.Split(queue, ".")
	if len(parts) < 3 || parts[0] != "nervous" {
		return 0, false
	}
	for _, ch := range Channels() {
		if parts[2] == ch.String() {
			return ch, true
		}
	}
	return 0, false
}
