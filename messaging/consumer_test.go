package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viablekit/nervous-go/contracts"
)

// fakeAcknowledger records the acknowledgment calls a delivery makes.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

// recordingHandler captures every dispatched message.
type recordingHandler struct {
	mu    sync.Mutex
	metas []Meta
	envs  []*contracts.Envelope
	err   error
}

func (h *recordingHandler) record(env *contracts.Envelope, meta Meta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metas = append(h.metas, meta)
	h.envs = append(h.envs, env)
	return h.err
}

func (h *recordingHandler) HandleCommand(_ context.Context, env *contracts.Envelope, meta Meta) error {
	return h.record(env, meta)
}

func (h *recordingHandler) HandleAudit(_ context.Context, env *contracts.Envelope, meta Meta) error {
	return h.record(env, meta)
}

func (h *recordingHandler) HandleAlgedonic(_ context.Context, env *contracts.Envelope, meta Meta) error {
	return h.record(env, meta)
}

func (h *recordingHandler) HandleHorizontal(_ context.Context, env *contracts.Envelope, meta Meta) error {
	return h.record(env, meta)
}

func (h *recordingHandler) HandleIntel(_ context.Context, env *contracts.Envelope, meta Meta) error {
	return h.record(env, meta)
}

func (h *recordingHandler) recorded() []Meta {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Meta(nil), h.metas...)
}

// failingOpener refuses every channel open and counts the attempts.
type failingOpener struct {
	mu       sync.Mutex
	attempts int
}

func (o *failingOpener) OpenChannel(context.Context) (*amqp.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	return nil, errors.New("no broker in this test")
}

func (o *failingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

func envelopeBody(t *testing.T, payload any) []byte {
	t.Helper()
	env, err := contracts.NewEnvelope("system5", "system1", payload)
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func TestHandleDeliveryDispatchesByBoundChannel(t *testing.T) {
	for _, channel := range contracts.Channels() {
		t.Run(channel.String(), func(t *testing.T) {
			handler := &recordingHandler{}
			c := NewSystemConsumer(&failingOpener{}, contracts.System1, handler)
			ack := &fakeAcknowledger{}

			delivery := amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  7,
				Exchange:     channel.ExchangeName(),
				RoutingKey:   "some.routing.key",
				Body:         envelopeBody(t, contracts.Command{Type: "noop"}),
			}
			c.handleDelivery(context.Background(), channel, "nervous.system1."+channel.String(), delivery)

			metas := handler.recorded()
			require.Len(t, metas, 1)
			assert.Equal(t, channel, metas[0].Channel)
			assert.Equal(t, uint64(7), metas[0].DeliveryTag)
			assert.Equal(t, []uint64{7}, ack.acks)
			assert.Empty(t, ack.nacks)
		})
	}
}

func TestHandleDeliveryUsesBindingNotNames(t *testing.T) {
	// The queue name mentions "command", but the subscription was bound
	// to the intel channel; the binding wins.
	handler := &recordingHandler{}
	c := NewSystemConsumer(&failingOpener{}, contracts.System1, handler)
	ack := &fakeAcknowledger{}

	delivery := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Body:         envelopeBody(t, map[string]any{"observation": "command pattern in payload"}),
	}
	c.handleDelivery(context.Background(), contracts.ChannelIntel, "nervous.system1.command", delivery)

	metas := handler.recorded()
	require.Len(t, metas, 1)
	assert.Equal(t, contracts.ChannelIntel, metas[0].Channel)
}

func TestHandleDeliveryAcksAfterHandlerError(t *testing.T) {
	handler := &recordingHandler{err: errors.New("handler exploded")}
	metrics := newCountingMetrics()
	c := NewSystemConsumer(&failingOpener{}, contracts.System2, handler,
		WithConsumerMetrics(metrics))
	ack := &fakeAcknowledger{}

	delivery := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  42,
		Body:         envelopeBody(t, contracts.Signal{Type: "overload"}),
	}
	c.handleDelivery(context.Background(), contracts.ChannelAlgedonic, "nervous.system2.algedonic", delivery)

	// Failure is logged and counted; the message is still consumed.
	assert.Equal(t, []uint64{42}, ack.acks)
	assert.Empty(t, ack.nacks)
	_, received, errs := metrics.counts(contracts.ChannelAlgedonic)
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, errs)
}

func TestHandleDeliveryRejectsUndecodable(t *testing.T) {
	handler := &recordingHandler{}
	metrics := newCountingMetrics()
	c := NewSystemConsumer(&failingOpener{}, contracts.System1, handler,
		WithConsumerMetrics(metrics))
	ack := &fakeAcknowledger{}

	delivery := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  9,
		Body:         []byte("not an envelope"),
	}
	c.handleDelivery(context.Background(), contracts.ChannelCommand, "nervous.system1.command", delivery)

	assert.Empty(t, handler.recorded(), "handler must not see undecodable messages")
	assert.Empty(t, ack.acks)
	require.Equal(t, []uint64{9}, ack.nacks)
	assert.Equal(t, []bool{false}, ack.requeue, "poison messages must not requeue")

	_, received, errs := metrics.counts(contracts.ChannelCommand)
	assert.Zero(t, received)
	assert.Equal(t, 1, errs)
}

func TestDispatchUnknownChannel(t *testing.T) {
	c := NewSystemConsumer(&failingOpener{}, contracts.System1, &recordingHandler{})
	err := c.dispatch(context.Background(), &contracts.Envelope{}, Meta{Channel: contracts.Channel(99)})
	assert.Error(t, err)
}

func TestConsumerStartTwice(t *testing.T) {
	c := NewSystemConsumer(&failingOpener{}, contracts.System1, &recordingHandler{},
		WithConsumerRetryInterval(10*time.Millisecond))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
}

func TestConsumerKeepsRetryingSubscription(t *testing.T) {
	opener := &failingOpener{}
	c := NewSystemConsumer(opener, contracts.System4, &recordingHandler{},
		WithConsumerRetryInterval(10*time.Millisecond))

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return opener.count() >= 3
	}, time.Second, 5*time.Millisecond, "setup failures must be retried on the interval")

	c.Stop()
	settled := opener.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, opener.count(), "no retries after Stop")
}

func TestDefaultQueueSet(t *testing.T) {
	c := NewSystemConsumer(&failingOpener{}, contracts.System3, &recordingHandler{})
	assert.Equal(t, contracts.SystemQueues(contracts.System3), c.queues)
	assert.Equal(t, contracts.System3, c.System())
}
