package contracts

// SystemID names one of the five subsystems of the Viable System Model.
// The string form appears in queue names and routing keys.
type SystemID string

const (
	// System1 runs the primary operations.
	System1 SystemID = "system1"
	// System2 coordinates between operational units.
	System2 SystemID = "system2"
	// System3 exercises operational control and owns the audit function.
	System3 SystemID = "system3"
	// System4 watches the environment and produces intelligence.
	System4 SystemID = "system4"
	// System5 sets policy and identity.
	System5 SystemID = "system5"
)

// AllSystems returns the five systems in hierarchy order.
func AllSystems() []SystemID {
	return []SystemID{System1, System2, System3, System4, System5}
}

// Valid reports whether s is one of the five defined systems.
func (s SystemID) Valid() bool {
	switch s {
	case System1, System2, System3, System4, System5:
		return true
	}
	return false
}

// Level returns the system's position in the VSM hierarchy, 1 (operations)
// through 5 (policy). Unknown identities are level 0 and compare equal to
// each other.
func (s SystemID) Level() int {
	switch s {
	case System1:
		return 1
	case System2:
		return 2
	case System3:
		return 3
	case System4:
		return 4
	case System5:
		return 5
	}
	return 0
}

// CommandLevel classifies the direction of a command relative to the
// hierarchy. It is the middle segment of every command routing key.
type CommandLevel string

const (
	// LevelTactical is a command between peers on the same level.
	LevelTactical CommandLevel = "tactical"
	// LevelStrategic is a command moving up the hierarchy.
	LevelStrategic CommandLevel = "strategic"
	// LevelOperational is a command moving down the hierarchy.
	LevelOperational CommandLevel = "operational"
)

// CommandLevelBetween derives the command level from the sender's and
// receiver's positions: tactical between equals, strategic from lower to
// higher, operational otherwise.
func CommandLevelBetween(from, to SystemID) CommandLevel {
	fl, tl := from.Level(), to.Level()
	switch {
	case fl == tl:
		return LevelTactical
	case fl < tl:
		return LevelStrategic
	default:
		return LevelOperational
	}
}
