// Package voicelink translates an external voice conversation's lifecycle and
// activity events into the ducker's gate.
package voicelink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
)

var (
	ErrNoSource         = errors.New("voicelink: no voice source configured")
	ErrAlreadyConnected = errors.New("voicelink: already connected")
)

// Source is the external voice conversation. Connect delivers events to
// handler until Disconnect returns or the source reports a disconnect.
type Source interface {
	Connect(ctx context.Context, handler Handler) error
	Disconnect() error
}

// Gate is driven by voice activity; *audio.Ducker satisfies it.
type Gate interface {
	SetVoiceActive(active bool)
}

// IntegrationState 是外部语音源状态的只读投影
type IntegrationState struct {
	Connected   bool
	VoiceActive bool
	Link        LinkState
	LastError   error
}

type AdapterOption func(*Adapter)

func WithMetrics(m *observe.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter holds no timing of its own; ramps live in the gate.
type Adapter struct {
	source  Source
	gate    Gate
	metrics *observe.Metrics

	mu        sync.Mutex
	sm        *StateMachine
	gen       uint64
	lastErr   error
	listeners []func(IntegrationState)
}

// NewAdapter accepts a nil source; Connect then fails with ErrNoSource and
// the gate stays open.
func NewAdapter(source Source, gate Gate, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		source: source,
		gate:   gate,
		sm:     NewStateMachine(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// OnChange registers fn for every state change. fn runs on the goroutine that
// delivered the event and must not call back into the adapter.
func (a *Adapter) OnChange(fn func(IntegrationState)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.source == nil {
		a.mu.Unlock()
		return ErrNoSource
	}
	if a.sm.Current() != LinkDisconnected {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.sm.Transition(LinkConnecting)
	a.gen++
	gen := a.gen
	a.lastErr = nil
	a.mu.Unlock()
	a.notify()

	err := a.source.Connect(ctx, func(e Event) { a.handle(gen, e) })

	a.mu.Lock()
	if gen != a.gen {
		// Disconnect ran while we were dialing.
		a.mu.Unlock()
		if err == nil {
			_ = a.source.Disconnect()
		}
		return nil
	}
	if err != nil {
		a.sm.Reset()
		a.gen++
		a.lastErr = err
		a.mu.Unlock()
		a.metrics.RecordVoiceLinkEvent(context.Background(), "connect_failed")
		logging.Warnf("VoiceLink: connect failed: %v", err)
		a.setGate(false)
		a.notify()
		return fmt.Errorf("connect voice source: %w", err)
	}
	if a.sm.Current() == LinkConnecting {
		a.sm.Transition(LinkConnected)
	}
	a.mu.Unlock()
	a.notify()
	return nil
}

// Disconnect forces the gate open even when nothing was connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if a.sm.Current() == LinkDisconnected {
		a.mu.Unlock()
		a.setGate(false)
		return nil
	}
	a.gen++
	a.sm.Reset()
	a.mu.Unlock()

	err := a.source.Disconnect()
	a.setGate(false)
	a.notify()
	logging.Infof("VoiceLink: disconnected")
	if err != nil {
		return fmt.Errorf("disconnect voice source: %w", err)
	}
	return nil
}

func (a *Adapter) handle(gen uint64, event Event) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.metrics.RecordVoiceLinkEvent(context.Background(), event.Type().String())

	prev := a.sm.Current()
	switch e := event.(type) {
	case *ConnectedEvent:
		a.sm.Transition(LinkConnected)
	case *SpeakingStartedEvent:
		if !a.sm.Transition(LinkSpeaking) {
			logging.Debugf("VoiceLink: speaking_started ignored in state %s", prev)
		}
	case *SpeakingStoppedEvent:
		if !a.sm.Transition(LinkConnected) {
			logging.Debugf("VoiceLink: speaking_stopped ignored in state %s", prev)
		}
	case *DisconnectedEvent:
		a.sm.Reset()
		a.gen++
		logging.Infof("VoiceLink: source disconnected (%s)", e.Reason)
	case *ErrorEvent:
		a.lastErr = e.Err
		logging.Warnf("VoiceLink: source error: %v", e.Err)
	}
	next := a.sm.Current()
	a.mu.Unlock()

	if next != prev {
		logging.Debugf("VoiceLink: %s -> %s", prev, next)
		a.setGate(next == LinkSpeaking)
	}
	a.notify()
}

func (a *Adapter) setGate(active bool) {
	if a.gate != nil {
		a.gate.SetVoiceActive(active)
	}
}

func (a *Adapter) State() IntegrationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Adapter) stateLocked() IntegrationState {
	link := a.sm.Current()
	return IntegrationState{
		Connected:   link == LinkConnected || link == LinkSpeaking,
		VoiceActive: link == LinkSpeaking,
		Link:        link,
		LastError:   a.lastErr,
	}
}

func (a *Adapter) notify() {
	a.mu.Lock()
	st := a.stateLocked()
	listeners := append([]func(IntegrationState){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}
