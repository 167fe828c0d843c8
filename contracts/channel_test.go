package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannel(t *testing.T) {
	t.Run("Channels returns all five in declaration order", func(t *testing.T) {
		chs := Channels()

		assert.Len(t, chs, 5)
		assert.Equal(t, []Channel{
			ChannelCommand,
			ChannelAudit,
			ChannelAlgedonic,
			ChannelHorizontal,
			ChannelIntel,
		}, chs)
	})

	t.Run("String names the channel", func(t *testing.T) {
		assert.Equal(t, "command", ChannelCommand.String())
		assert.Equal(t, "audit", ChannelAudit.String())
		assert.Equal(t, "algedonic", ChannelAlgedonic.String())
		assert.Equal(t, "horizontal", ChannelHorizontal.String())
		assert.Equal(t, "intel", ChannelIntel.String())
	})

	t.Run("Valid rejects out of range values", func(t *testing.T) {
		for _, ch := range Channels() {
			assert.True(t, ch.Valid(), ch.String())
		}
		assert.False(t, Channel(-1).Valid())
		assert.False(t, Channel(5).Valid())
	})

	t.Run("ExchangeName uses the nervous prefix", func(t *testing.T) {
		assert.Equal(t, "nervous.command", ChannelCommand.ExchangeName())
		assert.Equal(t, "nervous.audit", ChannelAudit.ExchangeName())
		assert.Equal(t, "nervous.algedonic", ChannelAlgedonic.ExchangeName())
		assert.Equal(t, "nervous.horizontal", ChannelHorizontal.ExchangeName())
		assert.Equal(t, "nervous.intel", ChannelIntel.ExchangeName())
	})

	t.Run("ExchangeKind matches routing semantics", func(t *testing.T) {
		assert.Equal(t, ExchangeTopic, ChannelCommand.ExchangeKind())
		assert.Equal(t, ExchangeFanout, ChannelAudit.ExchangeKind())
		assert.Equal(t, ExchangeDirect, ChannelAlgedonic.ExchangeKind())
		assert.Equal(t, ExchangeTopic, ChannelHorizontal.ExchangeKind())
		assert.Equal(t, ExchangeTopic, ChannelIntel.ExchangeKind())
	})

	t.Run("only algedonic carries priority and TTL", func(t *testing.T) {
		assert.Equal(t, uint8(255), ChannelAlgedonic.MaxPriority())
		assert.Equal(t, 60*time.Second, ChannelAlgedonic.MessageTTL())

		for _, ch := range []Channel{ChannelCommand, ChannelAudit, ChannelHorizontal, ChannelIntel} {
			assert.Zero(t, ch.MaxPriority(), ch.String())
			assert.Zero(t, ch.MessageTTL(), ch.String())
		}
	})

	t.Run("ChannelFromExchange round trips every channel", func(t *testing.T) {
		for _, ch := range Channels() {
			got, ok := ChannelFromExchange(ch.ExchangeName())
			assert.True(t, ok, ch.String())
			assert.Equal(t, ch, got)
		}

		_, ok := ChannelFromExchange("nervous.unknown")
		assert.False(t, ok)
		_, ok = ChannelFromExchange("")
		assert.False(t, ok)
	})
}
