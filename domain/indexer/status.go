package indexer

import (
	"fmt"
	"slices"

	"github.com/relaynet/channel-bridge/entities"
)

type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusStarted
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var transitions = map[Status][]Status{
	StatusStopped:  {StatusStarting},
	StatusStarting: {StatusStarted, StatusStopped},
	// a failing subscription drops a started indexer straight to stopped
	StatusStarted:  {StatusStopping, StatusStopped},
	StatusStopping: {StatusStopped},
}

func checkTransition(from, to Status) error {
	if !slices.Contains(transitions[from], to) {
		return fmt.Errorf("indexer %s -> %s: %w", from, to, entities.ErrInvalidTransition)
	}
	return nil
}
