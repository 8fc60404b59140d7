package audio

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
)

// AssetState 资源加载状态
type AssetState int

const (
	AssetUnloaded AssetState = iota
	AssetLoading
	AssetReady
	AssetFailed
)

func (s AssetState) String() string {
	switch s {
	case AssetUnloaded:
		return "unloaded"
	case AssetLoading:
		return "loading"
	case AssetReady:
		return "ready"
	case AssetFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type AssetRecord struct {
	Key    string
	URL    string
	State  AssetState
	Buffer *Buffer
	Err    error
}

// RegistryConfig 资源注册表配置
type RegistryConfig struct {
	SampleRate int
	Channels   int
	// MaxConcurrent caps parallel loads in one Preload. 0 means unlimited.
	MaxConcurrent int
	Fetcher       Fetcher
	Resampler     Resampler
	Metrics       *observe.Metrics
}

type registryEntry struct {
	rec    AssetRecord
	done   chan struct{}
	loadID uint64
}

// Registry caches decoded assets for the lifetime of a session.
type Registry struct {
	mu      sync.Mutex
	cfg     RegistryConfig
	entries map[string]*registryEntry
	nextID  uint64
	closed  bool
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewURLFetcher()
	}
	if cfg.Resampler == nil {
		cfg.Resampler = NewLinearResampler()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*registryEntry),
	}
}

type pendingLoad struct {
	key, url string
	entry    *registryEntry
	id       uint64
}

// Preload loads every asset concurrently and returns once each one is Ready
// or Failed. Individual failures are recorded on the asset, never returned.
// Assets already Ready under the same URL are kept; Failed ones are retried.
func (r *Registry) Preload(ctx context.Context, assets map[string]string) {
	var (
		loads []pendingLoad
		waits []chan struct{}
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for key, url := range assets {
		e, ok := r.entries[key]
		if !ok {
			e = &registryEntry{rec: AssetRecord{Key: key, URL: url}}
			r.entries[key] = e
		}
		switch {
		case e.rec.State == AssetLoading:
			waits = append(waits, e.done)
			continue
		case e.rec.State == AssetReady && e.rec.URL == url:
			continue
		}
		r.nextID++
		e.loadID = r.nextID
		e.done = make(chan struct{})
		e.rec = AssetRecord{Key: key, URL: url, State: AssetLoading}
		loads = append(loads, pendingLoad{key: key, url: url, entry: e, id: e.loadID})
	}
	r.mu.Unlock()

	if len(loads) == 0 && len(waits) == 0 {
		return
	}

	g := new(errgroup.Group)
	if r.cfg.MaxConcurrent > 0 {
		g.SetLimit(r.cfg.MaxConcurrent)
	}
	for _, w := range waits {
		g.Go(func() error {
			select {
			case <-w:
			case <-ctx.Done():
			}
			return nil
		})
	}
	for _, l := range loads {
		g.Go(func() error {
			r.load(ctx, l)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) load(ctx context.Context, l pendingLoad) {
	start := time.Now()
	data, err := r.cfg.Fetcher.Fetch(ctx, l.url)
	var buf *Buffer
	if err == nil {
		buf, err = Decode(l.url, data, r.cfg.SampleRate, r.cfg.Channels, r.cfg.Resampler)
	}
	elapsed := time.Since(start).Seconds()

	r.mu.Lock()
	if r.closed || r.entries[l.key] != l.entry || l.entry.loadID != l.id {
		r.mu.Unlock()
		logging.Debugf("Registry: dropping stale load of %s", l.key)
		return
	}
	if err != nil {
		l.entry.rec.State = AssetFailed
		l.entry.rec.Err = err
	} else {
		l.entry.rec.State = AssetReady
		l.entry.rec.Buffer = buf
	}
	close(l.entry.done)
	r.mu.Unlock()

	if err != nil {
		logging.Warnf("Registry: failed to load %s from %s: %v", l.key, l.url, err)
		r.cfg.Metrics.RecordAssetLoad(ctx, "failed", elapsed)
		return
	}
	logging.Debugf("Registry: loaded %s (%d frames, %v)", l.key, buf.Frames(), buf.Duration())
	r.cfg.Metrics.RecordAssetLoad(ctx, "ready", elapsed)
}

// Get returns the decoded buffer, or nil unless the asset is Ready.
func (r *Registry) Get(key string) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.rec.State == AssetReady {
		return e.rec.Buffer
	}
	return nil
}

func (r *Registry) State(key string) AssetState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.rec.State
	}
	return AssetUnloaded
}

func (r *Registry) Record(key string) (AssetRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return AssetRecord{}, false
	}
	return e.rec, true
}

// Records lists all known assets ordered by key.
func (r *Registry) Records() []AssetRecord {
	r.mu.Lock()
	out := make([]AssetRecord, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Await blocks while key is Loading and returns its buffer if it ends up
// Ready. Returns nil for unknown or failed assets, or when ctx ends first.
func (r *Registry) Await(ctx context.Context, key string) *Buffer {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	state, done := e.rec.State, e.done
	r.mu.Unlock()

	switch state {
	case AssetReady:
		return r.Get(key)
	case AssetLoading:
		select {
		case <-done:
			return r.Get(key)
		case <-ctx.Done():
			return nil
		}
	default:
		return nil
	}
}

// Close drops every record. Loads still in flight finish into the void.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, e := range r.entries {
		if e.rec.State == AssetLoading {
			close(e.done)
		}
	}
	r.entries = make(map[string]*registryEntry)
}
