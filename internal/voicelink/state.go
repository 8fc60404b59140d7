package voicelink

import "slices"

// LinkState 语音链路状态
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkSpeaking
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

var validTransitions = map[LinkState][]LinkState{
	LinkDisconnected: {LinkConnecting},
	LinkConnecting:   {LinkConnected, LinkDisconnected},
	LinkConnected:    {LinkSpeaking, LinkDisconnected},
	LinkSpeaking:     {LinkConnected, LinkDisconnected},
}

// StateMachine is not safe for concurrent use; the Adapter guards it.
type StateMachine struct {
	current LinkState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{current: LinkDisconnected}
}

func (sm *StateMachine) CanTransition(to LinkState) bool {
	return slices.Contains(validTransitions[sm.current], to)
}

func (sm *StateMachine) Transition(to LinkState) bool {
	if sm.CanTransition(to) {
		sm.current = to
		return true
	}
	return false
}

func (sm *StateMachine) Current() LinkState {
	return sm.current
}

// Reset forces Disconnected from any state.
func (sm *StateMachine) Reset() {
	sm.current = LinkDisconnected
}
