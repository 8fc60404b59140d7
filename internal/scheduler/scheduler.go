// Package scheduler fires one-shot effects from a pool at randomized,
// independently sampled intervals.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
)

// MinDelay is the shortest wait between two firings, whatever the options say.
const MinDelay = 10 * time.Millisecond

// Options 调度参数
type Options struct {
	AssetKeys   []string
	MinInterval time.Duration
	MaxInterval time.Duration
	// Per-fire volume is drawn from [MinVolume, MaxVolume]. Both zero means 1.0.
	MinVolume float64
	MaxVolume float64
	// AvoidRepeat never picks the previous key again when the pool has more
	// than one key.
	AvoidRepeat bool
}

func (o Options) normalized() Options {
	if o.MinInterval < 0 {
		o.MinInterval = 0
	}
	if o.MaxInterval < o.MinInterval {
		o.MaxInterval = o.MinInterval
	}
	if o.MinVolume == 0 && o.MaxVolume == 0 {
		o.MinVolume, o.MaxVolume = 1, 1
	}
	if o.MaxVolume < o.MinVolume {
		o.MaxVolume = o.MinVolume
	}
	o.AssetKeys = append([]string(nil), o.AssetKeys...)
	return o
}

// Firing is one step of the renewal process: what to play now and how long
// to wait before the next step.
type Firing struct {
	Key    string
	Volume float64
	Delay  time.Duration
}

// NextDelay samples a delay uniformly from [MinInterval, MaxInterval], never
// shorter than MinDelay.
func NextDelay(rng *rand.Rand, opts Options) time.Duration {
	opts = opts.normalized()
	d := opts.MinInterval
	if span := opts.MaxInterval - opts.MinInterval; span > 0 {
		d += time.Duration(rng.Int64N(int64(span) + 1))
	}
	return max(d, MinDelay)
}

// Pick chooses a key uniformly. With AvoidRepeat the previous key is excluded.
// Returns "" for an empty pool.
func Pick(rng *rand.Rand, opts Options, last string) string {
	keys := opts.AssetKeys
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	}
	if !opts.AvoidRepeat || last == "" {
		return keys[rng.IntN(len(keys))]
	}
	candidates := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != last {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return last
	}
	return candidates[rng.IntN(len(candidates))]
}

// Next is the pure generator: given the previous key it yields this firing
// and the delay until the following one.
func Next(rng *rand.Rand, opts Options, last string) Firing {
	opts = opts.normalized()
	f := Firing{Key: Pick(rng, opts, last), Volume: opts.MinVolume}
	if span := opts.MaxVolume - opts.MinVolume; span > 0 {
		f.Volume = opts.MinVolume + rng.Float64()*span
	}
	f.Delay = NextDelay(rng, opts)
	return f
}

// PlayFunc requests a one-shot; it must not block for long.
type PlayFunc func(key string, volume float64)

type Stats struct {
	Running     bool
	Fires       uint64
	LastKey     string
	LastFiredAt time.Time
	NextDueAt   time.Time
	Pending     int
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRand injects the random source, for deterministic runs.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler keeps exactly one pending timer while running.
type Scheduler struct {
	play    PlayFunc
	clock   clockwork.Clock
	rng     *rand.Rand
	metrics *observe.Metrics

	mu          sync.Mutex
	opts        Options
	running     bool
	gen         uint64
	timer       clockwork.Timer
	fires       uint64
	lastKey     string
	lastFiredAt time.Time
	nextDueAt   time.Time
}

func New(play PlayFunc, opts Options, options ...Option) *Scheduler {
	s := &Scheduler{
		play: play,
		opts: opts.normalized(),
	}
	for _, o := range options {
		o(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.gen++
	s.armLocked(NextDelay(s.rng, s.opts))
	logging.Infof("Scheduler: started with %d assets, interval [%v, %v]",
		len(s.opts.AssetKeys), s.opts.MinInterval, s.opts.MaxInterval)
}

// Stop cancels the pending timer. One-shots already playing finish normally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextDueAt = time.Time{}
	logging.Infof("Scheduler: stopped after %d fires", s.fires)
}

func (s *Scheduler) armLocked(delay time.Duration) {
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
	s.nextDueAt = s.clock.Now().Add(delay)
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	f := Next(s.rng, s.opts, s.lastKey)
	s.fires++
	s.lastFiredAt = s.clock.Now()
	if f.Key != "" {
		s.lastKey = f.Key
	}
	s.armLocked(f.Delay)
	s.mu.Unlock()

	if f.Key == "" {
		logging.Debugf("Scheduler: empty pool, skipping fire")
		return
	}
	logging.Debugf("Scheduler: firing %s at volume %.2f, next in %v", f.Key, f.Volume, f.Delay)
	s.metrics.RecordSchedulerFire(context.Background(), f.Key)
	if s.play != nil {
		s.play(f.Key, f.Volume)
	}
}

// UpdateOptions edits the options in place. The pending timer keeps its delay;
// the change applies from the next firing on.
func (s *Scheduler) UpdateOptions(update func(*Options)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := s.opts
	opts.AssetKeys = append([]string(nil), s.opts.AssetKeys...)
	update(&opts)
	s.opts = opts.normalized()
}

func (s *Scheduler) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.normalized()
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pending is 1 while running and 0 once stopped.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Scheduler) pendingLocked() int {
	if s.running && s.timer != nil {
		return 1
	}
	return 0
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:     s.running,
		Fires:       s.fires,
		LastKey:     s.lastKey,
		LastFiredAt: s.lastFiredAt,
		NextDueAt:   s.nextDueAt,
		Pending:     s.pendingLocked(),
	}
}
