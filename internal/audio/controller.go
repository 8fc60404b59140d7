package audio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
)

// PlayMode 播放模式
type PlayMode int

const (
	ModeLoop PlayMode = iota
	ModeOneShot
)

func (m PlayMode) String() string {
	if m == ModeLoop {
		return "loop"
	}
	return "oneshot"
}

type playOptions struct {
	volume float64
}

type PlayOption func(*playOptions)

// WithVolume sets the per-instance volume, applied on top of the bus gain.
func WithVolume(v float64) PlayOption {
	return func(o *playOptions) {
		o.volume = clamp01(v)
	}
}

// ControllerConfig 播放控制器配置
type ControllerConfig struct {
	Clock   clockwork.Clock
	Metrics *observe.Metrics
}

// Controller starts and stops sound instances on the bus graph and owns
// every live PlaybackHandle.
type Controller struct {
	graph    BusGraph
	registry *Registry
	clock    clockwork.Clock
	metrics  *observe.Metrics

	mu     sync.Mutex
	active map[uuid.UUID]*PlaybackHandle
	closed bool
}

func NewController(graph BusGraph, registry *Registry, cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		graph:    graph,
		registry: registry,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		active:   make(map[uuid.UUID]*PlaybackHandle),
	}
}

// PlayLoop starts a seamlessly looping instance. Returns nil if the asset is
// not ready.
func (c *Controller) PlayLoop(ctx context.Context, key string, bus Bus) *PlaybackHandle {
	return c.play(ctx, key, bus, ModeLoop, 1.0)
}

// PlayOneShot plays key once. The handle stops itself when playback ends.
func (c *Controller) PlayOneShot(ctx context.Context, key string, bus Bus, opts ...PlayOption) *PlaybackHandle {
	o := playOptions{volume: 1.0}
	for _, opt := range opts {
		opt(&o)
	}
	return c.play(ctx, key, bus, ModeOneShot, o.volume)
}

func (c *Controller) play(ctx context.Context, key string, bus Bus, mode PlayMode, volume float64) *PlaybackHandle {
	if c.isClosed() {
		return nil
	}

	buf := c.registry.Get(key)
	if buf == nil && c.registry.State(key) == AssetLoading {
		buf = c.registry.Await(ctx, key)
	}
	if buf == nil || buf.Frames() == 0 {
		logging.Warnf("Playback: asset %s is %s, ignoring %s request on %s", key, c.registry.State(key), mode, bus)
		c.metrics.RecordPlaybackRejected(ctx, bus.String())
		return nil
	}

	h := &PlaybackHandle{
		id:      uuid.New(),
		key:     key,
		bus:     bus,
		mode:    mode,
		ctrl:    c,
		buf:     buf,
		volume:  float32(volume),
		playing: true,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if err := c.graph.Attach(bus, h); err != nil {
		c.mu.Unlock()
		logging.Warnf("Playback: attach %s to %s failed: %v", key, bus, err)
		return nil
	}
	c.active[h.id] = h
	c.mu.Unlock()

	c.metrics.RecordPlaybackStarted(ctx, bus.String(), mode.String())
	logging.Debugf("Playback: started %s %s on %s (%s)", mode, key, bus, h.id)
	return h
}

func (c *Controller) Stop(h *PlaybackHandle) {
	if h != nil {
		h.Stop()
	}
}

func (c *Controller) FadeOutAndStop(h *PlaybackHandle, d time.Duration) {
	if h != nil {
		h.FadeOutAndStop(d)
	}
}

// StopAll stops every live instance immediately.
func (c *Controller) StopAll() {
	for _, h := range c.Active() {
		h.Stop()
	}
}

// Active returns the live handles.
func (c *Controller) Active() []*PlaybackHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PlaybackHandle, 0, len(c.active))
	for _, h := range c.active {
		out = append(out, h)
	}
	return out
}

func (c *Controller) ActiveCount(bus Bus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.active {
		if h.bus == bus {
			n++
		}
	}
	return n
}

// Close stops everything and refuses further play requests.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.StopAll()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) release(h *PlaybackHandle) {
	c.mu.Lock()
	_, ok := c.active[h.id]
	delete(c.active, h.id)
	c.mu.Unlock()

	c.graph.Detach(h.bus, h)
	if ok {
		c.metrics.RecordPlaybackEnded(context.Background())
		logging.Debugf("Playback: released %s %s (%s)", h.mode, h.key, h.id)
	}
}

// PlaybackHandle 一个正在播放的声音实例
// Once stopped it can never play again.
type PlaybackHandle struct {
	id   uuid.UUID
	key  string
	bus  Bus
	mode PlayMode
	ctrl *Controller
	buf  *Buffer

	mu        sync.Mutex
	volume    float32
	pos       int
	playing   bool
	fade      *gween.Tween
	fadeStart time.Time
	fadeTimer clockwork.Timer
}

func (h *PlaybackHandle) ID() uuid.UUID  { return h.id }
func (h *PlaybackHandle) Key() string    { return h.key }
func (h *PlaybackHandle) Bus() Bus       { return h.bus }
func (h *PlaybackHandle) Mode() PlayMode { return h.mode }

func (h *PlaybackHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// SetVolume changes this instance's volume only.
func (h *PlaybackHandle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = float32(clamp01(v))
}

// Stop is idempotent.
func (h *PlaybackHandle) Stop() {
	if h.markStopped() {
		h.ctrl.release(h)
	}
}

func (h *PlaybackHandle) markStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.playing {
		return false
	}
	h.playing = false
	if h.fadeTimer != nil {
		h.fadeTimer.Stop()
		h.fadeTimer = nil
	}
	return true
}

// FadeOutAndStop ramps the instance to silence over d, then stops it.
// A second call while fading, or a call on a stopped handle, is a no-op.
func (h *PlaybackHandle) FadeOutAndStop(d time.Duration) {
	if d <= 0 {
		h.Stop()
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.playing || h.fade != nil {
		return
	}
	h.fade = gween.New(1, 0, float32(d.Seconds()), ease.Linear)
	h.fadeStart = h.ctrl.clock.Now()
	h.fadeTimer = h.ctrl.clock.AfterFunc(d, h.Stop)
}

// fadeGain evaluates the fade ramp at the current clock time. Caller holds h.mu.
func (h *PlaybackHandle) fadeGain() (float32, bool) {
	if h.fade == nil {
		return 1, false
	}
	elapsed := h.ctrl.clock.Since(h.fadeStart).Seconds()
	return h.fade.Set(float32(elapsed))
}

// Mix implements Source.
func (h *PlaybackHandle) Mix(out [][]float32, gain float32) bool {
	h.mu.Lock()
	if !h.playing {
		h.mu.Unlock()
		return false
	}

	fade, faded := h.fadeGain()
	g := gain * h.volume * fade
	frames := len(out[0])
	total := h.buf.Frames()
	ch := h.buf.Channels
	samples := h.buf.Samples
	ended := faded

	for i := 0; i < frames && !ended; i++ {
		if h.pos >= total {
			if h.mode == ModeOneShot {
				ended = true
				break
			}
			h.pos = 0
		}
		base := h.pos * ch
		for c := range out {
			out[c][i] += samples[base+c%ch] * g
		}
		h.pos++
	}
	if h.mode == ModeOneShot && h.pos >= total {
		ended = true
	}
	h.mu.Unlock()

	if ended {
		h.Stop()
		return false
	}
	return true
}
