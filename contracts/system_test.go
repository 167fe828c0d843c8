package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemID(t *testing.T) {
	t.Run("AllSystems lists the five systems", func(t *testing.T) {
		assert.Equal(t, []SystemID{System1, System2, System3, System4, System5}, AllSystems())
	})

	t.Run("Valid accepts only known systems", func(t *testing.T) {
		for _, sys := range AllSystems() {
			assert.True(t, sys.Valid(), string(sys))
		}
		assert.False(t, SystemID("system6").Valid())
		assert.False(t, SystemID("").Valid())
		assert.False(t, SystemID("System1").Valid())
	})

	t.Run("Level maps system ids to recursion levels", func(t *testing.T) {
		assert.Equal(t, 1, System1.Level())
		assert.Equal(t, 2, System2.Level())
		assert.Equal(t, 3, System3.Level())
		assert.Equal(t, 4, System4.Level())
		assert.Equal(t, 5, System5.Level())
		assert.Equal(t, 0, SystemID("operator").Level())
	})
}

func TestCommandLevelBetween(t *testing.T) {
	t.Run("same level is tactical", func(t *testing.T) {
		assert.Equal(t, LevelTactical, CommandLevelBetween(System3, System3))
		assert.Equal(t, LevelTactical, CommandLevelBetween(System1, System1))
	})

	t.Run("upward is strategic", func(t *testing.T) {
		assert.Equal(t, LevelStrategic, CommandLevelBetween(System2, System4))
		assert.Equal(t, LevelStrategic, CommandLevelBetween(System1, System2))
		assert.Equal(t, LevelStrategic, CommandLevelBetween(System4, System5))
	})

	t.Run("downward is operational", func(t *testing.T) {
		assert.Equal(t, LevelOperational, CommandLevelBetween(System5, System1))
		assert.Equal(t, LevelOperational, CommandLevelBetween(System3, System1))
		assert.Equal(t, LevelOperational, CommandLevelBetween(System2, System1))
	})

	t.Run("unknown sender counts as level zero", func(t *testing.T) {
		// An out-of-model sender always addresses upward.
		assert.Equal(t, LevelStrategic, CommandLevelBetween(SystemID("operator"), System1))
	})
}
