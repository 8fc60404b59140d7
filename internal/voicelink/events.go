package voicelink

import (
	"time"
)

// EventType 语音源事件类型
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventError
	EventSpeakingStarted
	EventSpeakingStopped
)

var eventNames = map[EventType]string{
	EventConnected:       "connected",
	EventDisconnected:    "disconnected",
	EventError:           "error",
	EventSpeakingStarted: "speaking_started",
	EventSpeakingStopped: "speaking_stopped",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType maps a wire name such as "speaking_started" to its type.
func ParseEventType(name string) (EventType, bool) {
	for t, n := range eventNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// Handler receives events from a voice source, in order.
type Handler func(event Event)

type BaseEvent struct {
	eventType EventType
	timestamp time.Time
}

func (e *BaseEvent) Type() EventType {
	return e.eventType
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{eventType: t, timestamp: time.Now()}
}

type ConnectedEvent struct {
	BaseEvent
}

func NewConnectedEvent() *ConnectedEvent {
	return &ConnectedEvent{BaseEvent: newBase(EventConnected)}
}

// DisconnectedEvent 连接断开，Reason 可为空
type DisconnectedEvent struct {
	BaseEvent
	Reason string
}

func NewDisconnectedEvent(reason string) *DisconnectedEvent {
	return &DisconnectedEvent{BaseEvent: newBase(EventDisconnected), Reason: reason}
}

type ErrorEvent struct {
	BaseEvent
	Err error
}

func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{BaseEvent: newBase(EventError), Err: err}
}

type SpeakingStartedEvent struct {
	BaseEvent
}

func NewSpeakingStartedEvent() *SpeakingStartedEvent {
	return &SpeakingStartedEvent{BaseEvent: newBase(EventSpeakingStarted)}
}

type SpeakingStoppedEvent struct {
	BaseEvent
}

func NewSpeakingStoppedEvent() *SpeakingStoppedEvent {
	return &SpeakingStoppedEvent{BaseEvent: newBase(EventSpeakingStopped)}
}
