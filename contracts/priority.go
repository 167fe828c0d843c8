package contracts

// Priority is the numeric AMQP priority assigned to a signal class.
// Higher values are delivered first on priority-enabled queues.
type Priority uint8

// The signal-class priority table. Algedonic is always the numerically
// highest priority in the system and horizontal always the lowest.
const (
	PriorityAlgedonic     Priority = 255
	PriorityEmergency     Priority = 200
	PriorityCommandUrgent Priority = 150
	PriorityAuditCritical Priority = 100
	PriorityIntelUrgent   Priority = 75
	PriorityCommandNormal Priority = 50
	PriorityIntelRoutine  Priority = 25
	PriorityHorizontal    Priority = 10
)

// Urgency classifies intelligence reports. Anything other than
// UrgencyUrgent is treated as routine.
type Urgency string

const (
	UrgencyUrgent  Urgency = "urgent"
	UrgencyRoutine Urgency = "routine"
)

// Priority maps the urgency to its intel priority class.
func (u Urgency) Priority() Priority {
	if u == UrgencyUrgent {
		return PriorityIntelUrgent
	}
	return PriorityIntelRoutine
}
