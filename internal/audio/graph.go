package audio

import (
	"fmt"
	"sync"

	"github.com/liuscraft/orion-ambience/internal/logging"
)

// BusGraph 总线图：Master + Voice/SFX/Ambience 三个增益级
type BusGraph interface {
	// SetBaseGain sets the user-level volume of a bus, clamped to [0,1].
	// BusMaster's base gain scales the whole mix.
	SetBaseGain(bus Bus, value float64)
	BaseGain(bus Bus) float64
	// SetDuckMultiplier is driven by the Ducker. Ignored for BusMaster.
	SetDuckMultiplier(bus Bus, value float64)
	DuckMultiplier(bus Bus) float64
	// EffectiveGain is base × duck multiplier, clamped to [0,1].
	EffectiveGain(bus Bus) float64

	Attach(bus Bus, src Source) error
	Detach(bus Bus, src Source)
	// Attached counts the sources currently routed through bus.
	Attached(bus Bus) int
	Render(out [][]float32)

	SampleRate() int
	Channels() int
	Closed() bool
	Cleanup()
}

// GraphConfig 总线图配置
type GraphConfig struct {
	SampleRate int
	Channels   int
	Gains      map[Bus]float64
}

func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		SampleRate: 48000,
		Channels:   2,
		Gains: map[Bus]float64{
			BusMaster:   1.0,
			BusVoice:    1.0,
			BusSFX:      1.0,
			BusAmbience: 1.0,
		},
	}
}

type busState struct {
	base    float64
	duck    float64
	sources []Source
}

type busGraphImpl struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	buses      map[Bus]*busState
	closed     bool
}

func NewBusGraph(config *GraphConfig) (BusGraph, error) {
	if config == nil {
		config = DefaultGraphConfig()
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return nil, fmt.Errorf("invalid channels: %d", config.Channels)
	}

	g := &busGraphImpl{
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		buses:      make(map[Bus]*busState, 4),
	}
	for _, bus := range append([]Bus{BusMaster}, MixBuses...) {
		base := 1.0
		if v, ok := config.Gains[bus]; ok {
			base = clamp01(v)
		}
		g.buses[bus] = &busState{base: base, duck: 1.0}
	}
	return g, nil
}

func (g *busGraphImpl) SetBaseGain(bus Bus, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.buses[bus]; ok {
		st.base = clamp01(value)
	}
}

func (g *busGraphImpl) BaseGain(bus Bus) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.buses[bus]; ok {
		return st.base
	}
	return 0
}

func (g *busGraphImpl) SetDuckMultiplier(bus Bus, value float64) {
	if bus == BusMaster {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.buses[bus]; ok {
		st.duck = clamp01(value)
	}
}

func (g *busGraphImpl) DuckMultiplier(bus Bus) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.buses[bus]; ok {
		return st.duck
	}
	return 0
}

func (g *busGraphImpl) EffectiveGain(bus Bus) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveLocked(bus)
}

func (g *busGraphImpl) effectiveLocked(bus Bus) float64 {
	st, ok := g.buses[bus]
	if !ok {
		return 0
	}
	return clamp01(st.base * st.duck)
}

func (g *busGraphImpl) Attach(bus Bus, src Source) error {
	if src == nil {
		return nil
	}
	if bus == BusMaster || !bus.valid() {
		return fmt.Errorf("attach to %s: %w", bus, ErrUnknownBus)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}
	st := g.buses[bus]
	st.sources = append(st.sources, src)
	return nil
}

func (g *busGraphImpl) Detach(bus Bus, src Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detachLocked(bus, src)
}

func (g *busGraphImpl) detachLocked(bus Bus, src Source) {
	st, ok := g.buses[bus]
	if !ok {
		return
	}
	for i, s := range st.sources {
		if s == src {
			st.sources = append(st.sources[:i], st.sources[i+1:]...)
			return
		}
	}
}

func (g *busGraphImpl) Attached(bus Bus) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.buses[bus]; ok {
		return len(st.sources)
	}
	return 0
}

type mixEntry struct {
	bus  Bus
	src  Source
	gain float32
}

// Render mixes every attached source into out. out is one slice per channel,
// as handed over by the device callback.
func (g *busGraphImpl) Render(out [][]float32) {
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = 0
		}
	}
	if len(out) == 0 {
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	master := g.buses[BusMaster].base
	var entries []mixEntry
	for _, bus := range MixBuses {
		gain := float32(g.effectiveLocked(bus) * master)
		for _, src := range g.buses[bus].sources {
			entries = append(entries, mixEntry{bus: bus, src: src, gain: gain})
		}
	}
	g.mu.Unlock()

	var finished []mixEntry
	for _, e := range entries {
		if !e.src.Mix(out, e.gain) {
			finished = append(finished, e)
		}
	}

	for ch := range out {
		clip(out[ch])
	}

	if len(finished) > 0 {
		g.mu.Lock()
		for _, e := range finished {
			g.detachLocked(e.bus, e.src)
		}
		g.mu.Unlock()
	}
}

func clip(buf []float32) {
	for i, v := range buf {
		if v > 1.0 {
			buf[i] = 1.0
		} else if v < -1.0 {
			buf[i] = -1.0
		}
	}
}

func (g *busGraphImpl) SampleRate() int { return g.sampleRate }

func (g *busGraphImpl) Channels() int { return g.channels }

func (g *busGraphImpl) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Cleanup 断开所有音源，幂等
func (g *busGraphImpl) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	attached := 0
	for _, st := range g.buses {
		attached += len(st.sources)
		st.sources = nil
		st.duck = 1.0
	}
	logging.Debugf("BusGraph: cleaned up, released %d sources", attached)
}
