package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("stamps sender, receiver, time and correlation id", func(t *testing.T) {
		before := time.Now().UTC()
		env, err := NewEnvelope("system3", "system1", Command{Type: "restart_unit"})
		require.NoError(t, err)

		assert.Equal(t, "system3", env.From)
		assert.Equal(t, "system1", env.To)
		assert.NotEmpty(t, env.CorrelationID)
		assert.False(t, env.Timestamp.Before(before))
		assert.False(t, env.Timestamp.After(time.Now().UTC()))
	})

	t.Run("correlation ids are never reused", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			env, err := NewEnvelope("system1", "", nil)
			require.NoError(t, err)
			assert.False(t, seen[env.CorrelationID])
			seen[env.CorrelationID] = true
		}
	})

	t.Run("rejects an unencodable payload", func(t *testing.T) {
		_, err := NewEnvelope("system1", "", make(chan int))
		assert.Error(t, err)
	})
}

func TestEnvelopeJSON(t *testing.T) {
	env, err := NewEnvelope("unit-3", "", map[string]int{"widgets": 7})
	require.NoError(t, err)

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Contains(t, raw, "from")
	assert.Contains(t, raw, "payload")
	assert.Contains(t, raw, "timestamp")
	assert.Contains(t, raw, "correlationId")
	// Fanout-style envelopes carry no receiver.
	assert.NotContains(t, raw, "to")
}

func TestDecodePayload(t *testing.T) {
	t.Run("round trips a report", func(t *testing.T) {
		report := AuditReport{
			Kind:    "performance",
			Metrics: map[string]float64{"error_rate": 0.7},
		}
		env, err := NewEnvelope("system1", "", report)
		require.NoError(t, err)

		var decoded AuditReport
		require.NoError(t, env.DecodePayload(&decoded))
		assert.Equal(t, report, decoded)
	})

	t.Run("reports undecodable payloads", func(t *testing.T) {
		env := &Envelope{Payload: json.RawMessage(`{"broken`)}

		var decoded Command
		assert.Error(t, env.DecodePayload(&decoded))
	})
}
