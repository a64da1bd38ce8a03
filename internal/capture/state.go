// SPDX-License-Identifier: MIT
package capture

// State is the lifecycle state of a capture session.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized         // buffers allocated, driver idle
	StateRecording           // driver streaming, producer active
	StatePaused              // driver suspended, buffer retained
	StateStopped             // driver halted, buffer reset
	StateFaulted             // transfer error; needs Stop then Init
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Active reports whether frames may be retrieved in this state.
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused
}
