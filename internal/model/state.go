package model

import (
	"fmt"
)

// RunState is the state of the training orchestrator.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateStopping
	StateCompleted
	StateFailed
	StateStopped
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateStopping:  "stopping",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateStopped:   "stopped",
}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("RunState(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports states from which only an explicit start moves on.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// Active reports states owning a live process.
func (s RunState) Active() bool {
	return s == StateRunning || s == StateStopping
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = RunState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}
