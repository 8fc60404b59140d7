package voicelink

import (
	"context"
	"sync"
)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus 进程内事件总线
// Publish delivers synchronously, in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	subs := make([]subscription, len(eb.subs))
	copy(subs, eb.subs)
	eb.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// Subscribe returns a func that removes the handler again.
func (eb *EventBus) Subscribe(handler Handler) (unsubscribe func()) {
	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	eb.subs = append(eb.subs, subscription{id: id, handler: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(id) })
	}
}

func (eb *EventBus) unsubscribe(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			return
		}
	}
}

func (eb *EventBus) Subscribers() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// BusSource exposes an EventBus as a Source, for hosts that drive the voice
// conversation in-process.
type BusSource struct {
	bus *EventBus

	mu    sync.Mutex
	unsub func()
}

func NewBusSource(bus *EventBus) *BusSource {
	return &BusSource{bus: bus}
}

func (s *BusSource) Connect(ctx context.Context, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.unsub != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.unsub = s.bus.Subscribe(handler)
	s.mu.Unlock()

	handler(NewConnectedEvent())
	return nil
}

func (s *BusSource) Disconnect() error {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}
