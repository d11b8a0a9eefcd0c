package indexer

import (
	"slices"

	"github.com/relaynet/channel-bridge/entities"
)

// eventBuffer holds unconfirmed events keyed by event id, in order of first
// receipt.
type eventBuffer struct {
	order  []string
	events map[string]entities.ChainEvent
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{events: make(map[string]entities.ChainEvent)}
}

// Set adds the event or replaces the payload of a redelivered one, keeping its
// original position.
func (b *eventBuffer) Set(ev entities.ChainEvent) {
	id := ev.ID()
	if _, ok := b.events[id]; !ok {
		b.order = append(b.order, id)
	}
	b.events[id] = ev
}

func (b *eventBuffer) Delete(id string) {
	if _, ok := b.events[id]; !ok {
		return
	}
	delete(b.events, id)
	if i := slices.Index(b.order, id); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}
}

// PopConfirmed removes and returns, in receipt order, every event for which
// confirmed is true.
func (b *eventBuffer) PopConfirmed(confirmed func(ev entities.ChainEvent) bool) []entities.ChainEvent {
	var popped []entities.ChainEvent
	remaining := b.order[:0]
	for _, id := range b.order {
		ev := b.events[id]
		if confirmed(ev) {
			popped = append(popped, ev)
			delete(b.events, id)
			continue
		}
		remaining = append(remaining, id)
	}
	b.order = remaining
	return popped
}

func (b *eventBuffer) Len() int {
	return len(b.order)
}

func (b *eventBuffer) Clear() {
	b.order = nil
	b.events = make(map[string]entities.ChainEvent)
}
