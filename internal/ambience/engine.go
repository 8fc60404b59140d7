// Package ambience is the public surface of the ambient audio engine: one
// Engine owns a session of bus graph, asset registry, playback controller,
// ducker, scheduler and voice link.
package ambience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
	"github.com/liuscraft/orion-ambience/internal/scheduler"
	"github.com/liuscraft/orion-ambience/internal/voicelink"
)

// ErrCleanedUp is returned by an Initialize that was overtaken by Cleanup.
var ErrCleanedUp = errors.New("ambience: engine cleaned up during initialization")

type Option func(*Engine)

func WithOutputFactory(f audio.OutputFactory) Option {
	return func(e *Engine) { e.outputFactory = f }
}

// WithVoiceSource sets the external voice conversation. It is only used when
// the config enables the voice link.
func WithVoiceSource(src voicelink.Source) Option {
	return func(e *Engine) { e.voiceSource = src }
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithFetcher(f audio.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// Engine 环境音引擎
type Engine struct {
	cfg           Config
	outputFactory audio.OutputFactory
	voiceSource   voicelink.Source
	clock         clockwork.Clock
	fetcher       audio.Fetcher
	metrics       *observe.Metrics
	rng           *rand.Rand

	group singleflight.Group

	mu          sync.Mutex
	sess        *session
	gen         uint64
	loading     bool
	initErr     error
	cancelInit  context.CancelFunc
	levels      Levels
	ambienceKey string
	ambience    *audio.PlaybackHandle
	fading      *audio.PlaybackHandle
	ambienceReq uint64
	listeners   []func(Snapshot)
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		levels: cfg.Levels,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.outputFactory == nil {
		e.outputFactory = audio.NewPortAudioOutput
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// OnChange registers fn to receive a Snapshot after every state change.
func (e *Engine) OnChange(fn func(Snapshot)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Initialize builds a session. Concurrent calls share one attempt; calls on
// an initialized engine return nil. Only a failure of the graph or the output
// device is returned, and it is also kept in Snapshot().Error.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return nil
	}
	key := fmt.Sprintf("init-%d", e.gen)
	e.mu.Unlock()

	_, err, shared := e.group.Do(key, func() (any, error) {
		return nil, e.initialize(ctx)
	})
	if shared {
		logging.Debugf("Engine: joined in-flight initialization")
	}
	return err
}

func (e *Engine) initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return nil
	}
	gen := e.gen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelInit = cancel
	e.loading = true
	e.initErr = nil
	e.mu.Unlock()
	e.notify()

	id := logging.NewSessionID()
	logging.SetSessionID(id)
	logging.Infof("Engine: initializing session %s (%d ambience, %d sfx assets)",
		id, len(e.cfg.AmbienceAssets), len(e.cfg.SFXAssets))

	s, err := e.buildSession(ctx, id)
	if err == nil && e.cfg.EnableVoiceLink && e.cfg.AutoConnect {
		if cerr := s.adapter.Connect(ctx); cerr != nil {
			logging.Warnf("Engine: voice link unavailable, continuing without ducking: %v", cerr)
		}
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		if s != nil {
			s.close()
		}
		logging.Infof("Engine: session %s discarded, cleanup ran during initialization", id)
		return ErrCleanedUp
	}
	e.loading = false
	e.cancelInit = nil
	if err != nil {
		e.initErr = err
		e.mu.Unlock()
		e.metrics.RecordInitFailure(context.Background())
		logging.Errorf("Engine: initialization failed: %v", err)
		e.notify()
		return err
	}
	e.sess = s
	e.mu.Unlock()

	for _, rec := range s.registry.Records() {
		if rec.State == audio.AssetFailed {
			logging.Warnf("Engine: asset %s unavailable: %v", rec.Key, rec.Err)
		}
	}
	logging.Infof("Engine: session %s ready", id)
	e.notify()
	return nil
}

// Cleanup stops all playback and releases the session. It is idempotent and
// also abandons an in-flight Initialize.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	s := e.sess
	cancel := e.cancelInit
	hadState := s != nil || e.loading || e.initErr != nil
	e.sess = nil
	e.gen++
	e.cancelInit = nil
	e.loading = false
	e.initErr = nil
	e.levels = e.cfg.Levels
	e.ambience = nil
	e.fading = nil
	e.ambienceKey = ""
	e.ambienceReq++
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s != nil {
		s.close()
		logging.Infof("Engine: session %s cleaned up", s.id)
	}
	if hadState {
		e.notify()
	}
}

func (e *Engine) session() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// StartAmbience replaces the current ambience loop with key, cutting off a
// loop that is still fading out. Only the most recent request survives when
// calls overlap.
func (e *Engine) StartAmbience(ctx context.Context, key string) {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return
	}
	e.ambienceReq++
	req := e.ambienceReq
	prev, fading := e.ambience, e.fading
	e.ambience, e.fading = nil, nil
	e.ambienceKey = key
	e.mu.Unlock()

	for _, old := range []*audio.PlaybackHandle{prev, fading} {
		if old != nil {
			old.Stop()
		}
	}

	h := s.ctrl.PlayLoop(ctx, key, audio.BusAmbience)

	e.mu.Lock()
	if e.sess != s || req != e.ambienceReq {
		e.mu.Unlock()
		if h != nil {
			h.Stop()
		}
		return
	}
	if h == nil {
		e.ambienceKey = ""
	}
	e.ambience = h
	e.mu.Unlock()

	if h != nil {
		logging.Infof("Engine: ambience %s playing", key)
	}
	e.notify()
}

// StopAmbience fades the ambience loop out.
func (e *Engine) StopAmbience() {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return
	}
	h := e.ambience
	e.ambience = nil
	if h != nil {
		e.fading = h
	}
	e.ambienceKey = ""
	e.ambienceReq++
	e.mu.Unlock()

	if h != nil {
		h.FadeOutAndStop(e.cfg.AmbienceFadeOut)
	}
	e.notify()
}

// StartScheduler is a no-op when scheduling is disabled in the config.
func (e *Engine) StartScheduler() {
	s := e.session()
	if s == nil {
		return
	}
	if !e.cfg.SchedulingEnabled {
		logging.Debugf("Engine: scheduling disabled, not starting scheduler")
		return
	}
	s.sched.Start()
	e.notify()
}

func (e *Engine) StopScheduler() {
	s := e.session()
	if s == nil {
		return
	}
	s.sched.Stop()
	e.notify()
}

// UpdateScheduler changes the pool or interval range of the running
// scheduler; the next firing picks it up.
func (e *Engine) UpdateScheduler(update func(*scheduler.Options)) {
	s := e.session()
	if s == nil {
		return
	}
	s.sched.UpdateOptions(update)
}

// PlaySfx plays key once on the SFX bus. Returns nil before initialization or
// when the asset is not ready.
func (e *Engine) PlaySfx(ctx context.Context, key string, volume float64) *audio.PlaybackHandle {
	s := e.session()
	if s == nil {
		return nil
	}
	return s.ctrl.PlayOneShot(ctx, key, audio.BusSFX, audio.WithVolume(volume))
}

// ConnectIntegration connects the voice link. Failures are reported and kept
// in the snapshot; ambience and scheduler keep running either way.
func (e *Engine) ConnectIntegration(ctx context.Context) error {
	s := e.session()
	if s == nil {
		return nil
	}
	err := s.adapter.Connect(ctx)
	if err != nil {
		logging.Warnf("Engine: voice link connect failed: %v", err)
	}
	return err
}

func (e *Engine) DisconnectIntegration() error {
	s := e.session()
	if s == nil {
		return nil
	}
	return s.adapter.Disconnect()
}

func (e *Engine) SetAmbienceVolume(v float64) { e.setLevel(audio.BusAmbience, v) }
func (e *Engine) SetSfxVolume(v float64)      { e.setLevel(audio.BusSFX, v) }
func (e *Engine) SetVoiceVolume(v float64)    { e.setLevel(audio.BusVoice, v) }
func (e *Engine) SetMasterVolume(v float64)   { e.setLevel(audio.BusMaster, v) }

func (e *Engine) setLevel(bus audio.Bus, v float64) {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return
	}
	s.graph.SetBaseGain(bus, v)
	v = s.graph.BaseGain(bus)
	switch bus {
	case audio.BusAmbience:
		e.levels.Ambience = v
	case audio.BusSFX:
		e.levels.SFX = v
	case audio.BusVoice:
		e.levels.Voice = v
	case audio.BusMaster:
		e.levels.Master = v
	}
	e.mu.Unlock()
	e.notify()
}

// EffectiveGain is base gain times duck multiplier for bus; 0 before
// initialization.
func (e *Engine) EffectiveGain(bus audio.Bus) float64 {
	s := e.session()
	if s == nil {
		return 0
	}
	return s.graph.EffectiveGain(bus)
}

// PushVoice routes remote voice PCM (16-bit LE mono) through the Voice bus.
func (e *Engine) PushVoice(pcm []byte) error {
	s := e.session()
	if s == nil {
		return nil
	}
	return s.voice.Push(pcm)
}

func (e *Engine) notify() {
	e.mu.Lock()
	listeners := append([]func(Snapshot){}, e.listeners...)
	e.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	snap := e.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}
