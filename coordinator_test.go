package nervous

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viablekit/nervous-go/contracts"
	"github.com/viablekit/nervous-go/messaging"
)

type capturedPublish struct {
	channel    contracts.Channel
	exchange   string
	routingKey string
	env        *contracts.Envelope
	opts       contracts.PublishOptions
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	captured []capturedPublish
}

func (f *fakePublisher) Publish(_ context.Context, channel contracts.Channel, exchange, routingKey string, env *contracts.Envelope, opts contracts.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.captured = append(f.captured, capturedPublish{channel, exchange, routingKey, env, opts})
	return nil
}

func (f *fakePublisher) published() []capturedPublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedPublish(nil), f.captured...)
}

// newSystemUnderTest builds a facade around a fake publisher, skipping the
// pool and manager entirely.
func newSystemUnderTest(pub messaging.Publisher) *NervousSystem {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &NervousSystem{
		logger:   logger,
		producer: messaging.NewProducer(pub, messaging.WithProducerLogger(logger)),
	}
}

func TestCoordinateResources(t *testing.T) {
	t.Run("allocates the full requirement to a single requester", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{
			{Unit: "unit-a", Available: 30},
			{Unit: "unit-b", Available: 50},
			{Unit: "unit-c", Required: 40},
		}
		allocations, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		require.NoError(t, err)

		require.Len(t, allocations, 1)
		assert.Equal(t, "unit-c", allocations[0].Unit)
		assert.Equal(t, 40.0, allocations[0].Amount)
		assert.LessOrEqual(t, allocations[0].Amount, 80.0)

		published := pub.published()
		require.Len(t, published, 1)
		assert.Equal(t, contracts.ChannelHorizontal, published[0].channel)
		assert.Equal(t, "system2.resources.resource_allocation", published[0].routingKey)

		var alloc Allocation
		require.NoError(t, published[0].env.DecodePayload(&alloc))
		assert.Equal(t, Allocation{Unit: "unit-c", Amount: 40}, alloc)
	})

	t.Run("splits the required total evenly across requesters", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{
			{Unit: "unit-a", Available: 100},
			{Unit: "unit-c", Required: 10},
			{Unit: "unit-d", Required: 30},
		}
		allocations, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		require.NoError(t, err)

		require.Len(t, allocations, 2)
		for _, alloc := range allocations {
			assert.Equal(t, 20.0, alloc.Amount)
		}
		assert.Len(t, pub.published(), 2)
	})

	t.Run("does nothing when no unit requires anything", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{
			{Unit: "unit-a", Available: 30},
			{Unit: "unit-b", Available: 50},
		}
		allocations, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		require.NoError(t, err)
		assert.Nil(t, allocations)
		assert.Empty(t, pub.published())
	})

	t.Run("escalates a shortage to System 5 exactly once", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{
			{Unit: "unit-a", Available: 20},
			{Unit: "unit-b", Required: 50},
		}
		allocations, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		assert.ErrorIs(t, err, ErrInsufficientResources)
		assert.Nil(t, allocations)

		published := pub.published()
		require.Len(t, published, 1)
		assert.Equal(t, contracts.ChannelAlgedonic, published[0].channel)
		assert.Equal(t, string(contracts.System5), published[0].routingKey)
		assert.Equal(t, contracts.PriorityAlgedonic, published[0].opts.Priority)

		var sig contracts.Signal
		require.NoError(t, published[0].env.DecodePayload(&sig))
		assert.Equal(t, "resource_shortage", sig.Type)
		assert.Equal(t, "critical", sig.Severity)

		details, ok := sig.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 20.0, details["available"])
		assert.Equal(t, 50.0, details["required"])
	})

	t.Run("a requirement takes precedence over offered capacity", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		// The unit offers plenty but also declares a need, so it counts
		// only as a requester and nothing is left to cover it.
		units := []UnitResource{{Unit: "unit-x", Available: 100, Required: 10}}
		_, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		assert.ErrorIs(t, err, ErrInsufficientResources)
	})

	t.Run("shortage is reported even when the escalation publish fails", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker gone")}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{{Unit: "unit-b", Required: 50}}
		_, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		assert.ErrorIs(t, err, ErrInsufficientResources)
	})

	t.Run("allocation broadcast failure surfaces to the caller", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker gone")}
		ns := newSystemUnderTest(pub)

		units := []UnitResource{
			{Unit: "unit-a", Available: 50},
			{Unit: "unit-b", Required: 40},
		}
		allocations, err := ns.CoordinateResources(context.Background(), contracts.System2, units)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "allocation broadcast to unit-b")
		assert.Nil(t, allocations)
	})
}

func TestEmergencyBroadcast(t *testing.T) {
	t.Run("reaches every system except the sender", func(t *testing.T) {
		pub := &fakePublisher{}
		ns := newSystemUnderTest(pub)

		sig := contracts.Signal{Type: "cascade_failure", Severity: "critical"}
		require.NoError(t, ns.EmergencyBroadcast(context.Background(), contracts.System3, sig))

		published := pub.published()
		require.Len(t, published, 4)

		recipients := make(map[string]bool)
		for _, p := range published {
			assert.Equal(t, contracts.ChannelAlgedonic, p.channel)
			assert.Equal(t, contracts.PriorityAlgedonic, p.opts.Priority)
			assert.Equal(t, contracts.AlgedonicTTL, p.opts.TTL)
			assert.Equal(t, string(contracts.System3), p.env.From)
			recipients[p.routingKey] = true
		}
		assert.Equal(t, map[string]bool{
			"system1": true,
			"system2": true,
			"system4": true,
			"system5": true,
		}, recipients)
	})

	t.Run("returns the first send failure", func(t *testing.T) {
		boom := errors.New("broker gone")
		pub := &fakePublisher{err: boom}
		ns := newSystemUnderTest(pub)

		err := ns.EmergencyBroadcast(context.Background(), contracts.System1, contracts.Signal{Type: "x"})
		assert.ErrorIs(t, err, boom)
	})
}

func TestBroadcastStatusRequest(t *testing.T) {
	pub := &fakePublisher{}
	ns := newSystemUnderTest(pub)

	targets := []contracts.SystemID{contracts.System1, contracts.System2, contracts.System3, contracts.System4}
	require.NoError(t, ns.BroadcastStatusRequest(context.Background(), contracts.System3, "compliance", targets))

	published := pub.published()
	require.Len(t, published, 3)

	keys := make([]string, 0, len(published))
	for _, p := range published {
		keys = append(keys, p.routingKey)

		var cmd contracts.Command
		require.NoError(t, p.env.DecodePayload(&cmd))
		assert.Equal(t, "status_request", cmd.Type)
		assert.Equal(t, "compliance", cmd.Params["status_type"])
	}
	assert.Equal(t, []string{
		"system1.operational.status_request",
		"system2.operational.status_request",
		"system4.strategic.status_request",
	}, keys)
}
