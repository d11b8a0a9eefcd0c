package channel

import (
	"fmt"
	"slices"

	"github.com/relaynet/channel-bridge/entities"
)

var transitions = map[entities.ChannelStatus][]entities.ChannelStatus{
	// a channel first seen through the indexer skips OPENING
	entities.ChannelUninitialized:  {entities.ChannelOpening, entities.ChannelOpen},
	entities.ChannelOpening:        {entities.ChannelOpen},
	entities.ChannelOpen:           {entities.ChannelPendingClosure, entities.ChannelClosed},
	entities.ChannelPendingClosure: {entities.ChannelClosed},
}

func canTransition(from, to entities.ChannelStatus) bool {
	return slices.Contains(transitions[from], to)
}

func transitionError(from, to entities.ChannelStatus) error {
	return fmt.Errorf("%s -> %s: %w", from, to, entities.ErrInvalidTransition)
}
