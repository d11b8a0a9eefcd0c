package connector

import (
	"fmt"
	"slices"

	"github.com/relaynet/channel-bridge/entities"
)

type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusInitialized
	StatusStarting
	StatusStarted
	StatusStopping
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusInitialized:
		return "initialized"
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var transitions = map[Status][]Status{
	StatusUninitialized: {StatusInitializing},
	StatusInitializing:  {StatusInitialized, StatusUninitialized},
	StatusInitialized:   {StatusStarting},
	StatusStarting:      {StatusStarted, StatusStopped},
	StatusStarted:       {StatusStopping},
	StatusStopping:      {StatusStopped},
	StatusStopped:       {StatusStarting},
}

func checkTransition(from, to Status) error {
	if !slices.Contains(transitions[from], to) {
		return fmt.Errorf("connector %s -> %s: %w", from, to, entities.ErrInvalidTransition)
	}
	return nil
}
