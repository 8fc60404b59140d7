package audio

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
)

// Gate 闪避门：Closed 表示人声活跃，压低音量
type Gate int

const (
	GateOpen Gate = iota
	GateClosed
)

func (g Gate) String() string {
	if g == GateClosed {
		return "closed"
	}
	return "open"
}

type DuckState struct {
	Gate    Gate
	Current float64
	Target  float64
}

// DuckerConfig 闪避配置
type DuckerConfig struct {
	DuckVolume float64
	Attack     time.Duration
	Release    time.Duration
	Tick       time.Duration
	// Buses that get ducked. Voice is never among them.
	Buses   []Bus
	Clock   clockwork.Clock
	Metrics *observe.Metrics
}

func DefaultDuckerConfig() *DuckerConfig {
	return &DuckerConfig{
		DuckVolume: 0.3,
		Attack:     150 * time.Millisecond,
		Release:    600 * time.Millisecond,
		Tick:       16 * time.Millisecond,
		Buses:      []Bus{BusSFX, BusAmbience},
	}
}

// Ducker ramps the duck multiplier of the configured buses whenever the
// voice gate flips.
type Ducker struct {
	graph   BusGraph
	cfg     DuckerConfig
	clock   clockwork.Clock
	metrics *observe.Metrics

	mu        sync.Mutex
	gate      Gate
	current   float64
	target    float64
	tween     *gween.Tween
	rampStart time.Time
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewDucker(graph BusGraph, config *DuckerConfig) *Ducker {
	if config == nil {
		config = DefaultDuckerConfig()
	}
	cfg := *config
	if cfg.Tick <= 0 {
		cfg.Tick = 16 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Buses == nil {
		cfg.Buses = []Bus{BusSFX, BusAmbience}
	}
	cfg.DuckVolume = clamp01(cfg.DuckVolume)

	var buses []Bus
	for _, b := range cfg.Buses {
		if b != BusVoice && b != BusMaster {
			buses = append(buses, b)
		}
	}
	cfg.Buses = buses

	return &Ducker{
		graph:   graph,
		cfg:     cfg,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		gate:    GateOpen,
		current: 1.0,
		target:  1.0,
	}
}

// Start begins observing the gate and animating ramps.
func (d *Ducker) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.applyLocked()
	go d.loop(d.stopCh, d.doneCh)
	logging.Debugf("Ducker: started (duck=%.2f attack=%v release=%v)", d.cfg.DuckVolume, d.cfg.Attack, d.cfg.Release)
}

func (d *Ducker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := d.clock.NewTicker(d.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			d.step()
		}
	}
}

// Stop halts the animation loop and restores the multiplier to 1.0.
func (d *Ducker) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stop)
	<-done

	d.mu.Lock()
	d.gate = GateOpen
	d.current = 1.0
	d.target = 1.0
	d.tween = nil
	d.applyLocked()
	d.mu.Unlock()
	logging.Debugf("Ducker: stopped, multiplier restored")
}

func (d *Ducker) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Ducker) SetVoiceActive(active bool) {
	if active {
		d.SetGate(GateClosed)
		return
	}
	d.SetGate(GateOpen)
}

// SetGate redirects the ramp toward the gate's target, starting from the
// current multiplier. Ignored while stopped or when the gate is unchanged.
func (d *Ducker) SetGate(g Gate) {
	d.mu.Lock()
	if !d.running || g == d.gate {
		d.mu.Unlock()
		return
	}
	d.gate = g
	dur := d.cfg.Release
	d.target = 1.0
	if g == GateClosed {
		dur = d.cfg.Attack
		d.target = d.cfg.DuckVolume
	}
	if dur <= 0 {
		d.current = d.target
		d.tween = nil
	} else {
		d.tween = gween.New(float32(d.current), float32(d.target), float32(dur.Seconds()), ease.Linear)
		d.rampStart = d.clock.Now()
	}
	d.applyLocked()
	current, target := d.current, d.target
	d.mu.Unlock()

	d.metrics.RecordGateTransition(context.Background(), g.String())
	logging.Infof("Ducker: gate %s, ramping %.3f -> %.3f over %v", g, current, target, dur)
}

// step advances the active ramp to the current clock time.
func (d *Ducker) step() {
	d.mu.Lock()
	if d.tween == nil {
		d.mu.Unlock()
		return
	}
	v, finished := d.tween.Set(float32(d.clock.Since(d.rampStart).Seconds()))
	if finished {
		d.current = d.target
		d.tween = nil
	} else {
		d.current = d.bounded(float64(v))
	}
	d.applyLocked()
	current := d.current
	d.mu.Unlock()

	d.metrics.RecordDuckMultiplier(context.Background(), current)
}

// bounded keeps float32 rounding from stepping past the target or back
// beyond the ramp's range.
func (d *Ducker) bounded(v float64) float64 {
	lo, hi := d.cfg.DuckVolume, 1.0
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (d *Ducker) applyLocked() {
	for _, bus := range d.cfg.Buses {
		d.graph.SetDuckMultiplier(bus, d.current)
	}
}

func (d *Ducker) State() DuckState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DuckState{Gate: d.gate, Current: d.current, Target: d.target}
}
