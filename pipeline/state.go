package pipeline

import "fmt"

// State is the position of a consumer within its polling cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDispatching
	StateAwaiting
	StateCompleting
	// StateDraining: shutdown was requested while messages were in flight.
	StateDraining
	StateStopped
)

var stateNames = [...]string{
	StateIdle:        "Idle",
	StatePolling:     "Polling",
	StateDispatching: "Dispatching",
	StateAwaiting:    "Awaiting",
	StateCompleting:  "Completing",
	StateDraining:    "Draining",
	StateStopped:     "Stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}
