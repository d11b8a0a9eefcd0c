package indexer

import (
	"testing"

	"github.com/relaynet/channel-bridge/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuffer_KeepsReceiptOrder(t *testing.T) {
	buffer := newEventBuffer()

	first := entities.ChainEvent{Kind: entities.OpenedChannelEvent, BlockNumber: 5, LogIndex: 1}
	second := entities.ChainEvent{Kind: entities.OpenedChannelEvent, BlockNumber: 3, LogIndex: 2}
	third := entities.ChainEvent{Kind: entities.ClosedChannelEvent, BlockNumber: 4, LogIndex: 3}

	buffer.Set(first)
	buffer.Set(second)
	buffer.Set(third)
	// redelivery keeps the original slot
	buffer.Set(first)
	require.Equal(t, 3, buffer.Len())

	popped := buffer.PopConfirmed(func(ev entities.ChainEvent) bool { return ev.BlockNumber <= 4 })
	assert.Equal(t, []entities.ChainEvent{second, third}, popped)
	assert.Equal(t, 1, buffer.Len())

	popped = buffer.PopConfirmed(func(ev entities.ChainEvent) bool { return true })
	assert.Equal(t, []entities.ChainEvent{first}, popped)
	assert.Equal(t, 0, buffer.Len())
}

func TestEventBuffer_Delete(t *testing.T) {
	buffer := newEventBuffer()

	ev := entities.ChainEvent{Kind: entities.OpenedChannelEvent, BlockNumber: 1, LogIndex: 1}
	other := entities.ChainEvent{Kind: entities.OpenedChannelEvent, BlockNumber: 2, LogIndex: 2}
	buffer.Set(ev)
	buffer.Set(other)

	buffer.Delete("unknown")
	assert.Equal(t, 2, buffer.Len())

	buffer.Delete(ev.ID())
	assert.Equal(t, 1, buffer.Len())
	assert.Equal(t, []entities.ChainEvent{other}, buffer.PopConfirmed(func(entities.ChainEvent) bool { return true }))

	buffer.Set(ev)
	buffer.Clear()
	assert.Equal(t, 0, buffer.Len())
	assert.Empty(t, buffer.PopConfirmed(func(entities.ChainEvent) bool { return true }))
}
