package ambience

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/observe"
	"github.com/liuscraft/orion-ambience/internal/voicelink"
)

type memFetcher struct {
	mu     sync.Mutex
	data   map[string][]byte
	gates  map[string]chan struct{}
	inside chan string
}

func newMemFetcher() *memFetcher {
	return &memFetcher{
		data:   map[string][]byte{},
		gates:  map[string]chan struct{}{},
		inside: make(chan string, 16),
	}
}

func (f *memFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	data, ok := f.data[url]
	gate := f.gates[url]
	f.mu.Unlock()
	if gate != nil {
		f.inside <- url
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("not found: " + url)
	}
	return data, nil
}

func (f *memFetcher) block(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[url] = gate
	return gate
}

func (f *memFetcher) waitInside(t *testing.T) {
	t.Helper()
	select {
	case <-f.inside:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}
}

// pcm16 returns frames of 16-bit LE mono PCM at a constant level.
func pcm16(frames int, level int16) []byte {
	buf := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(level))
	}
	return buf
}

type failingSource struct{}

func (failingSource) Connect(context.Context, voicelink.Handler) error {
	return errors.New("voice host unreachable")
}
func (failingSource) Disconnect() error { return nil }

// gatedSource holds Connect until released, ignoring ctx.
type gatedSource struct {
	entered     chan struct{}
	release     chan struct{}
	disconnects atomic.Int32
}

func newGatedSource() *gatedSource {
	return &gatedSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSource) Connect(_ context.Context, handler voicelink.Handler) error {
	g.entered <- struct{}{}
	<-g.release
	handler(voicelink.NewConnectedEvent())
	return nil
}

func (g *gatedSource) Disconnect() error {
	g.disconnects.Add(1)
	return nil
}

type harness struct {
	engine  *Engine
	out     *audio.PullOutput
	clock   *clockwork.FakeClock
	fetcher *memFetcher
	reader  *metric.ManualReader
	opened  atomic.Int32
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AmbienceAssets = map[string]string{
		"rain": "mem://rain.pcm",
		"cafe": "mem://cafe.pcm",
	}
	cfg.SFXAssets = map[string]string{"bark": "mem://bark.pcm"}
	cfg.Levels = Levels{Ambience: 0.5, SFX: 0.4, Voice: 1, Master: 1}
	cfg.SchedulingEnabled = true
	cfg.Scheduling.AssetKeys = []string{"bark"}
	cfg.Scheduling.MinInterval = time.Second
	cfg.Scheduling.MaxInterval = time.Second
	cfg.DuckVolume = 0.3
	cfg.Attack = 150 * time.Millisecond
	cfg.Release = 600 * time.Millisecond
	cfg.Tick = 16 * time.Millisecond
	cfg.Output = audio.OutputConfig{SampleRate: 16000, Channels: 2, FramesPerBuffer: 256}
	cfg.EnableVoiceLink = false
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		out:     audio.NewPullOutput(cfg.Output),
		clock:   clockwork.NewFakeClock(),
		fetcher: newMemFetcher(),
		reader:  metric.NewManualReader(),
	}
	for _, key := range []string{"rain", "cafe", "bark", "storm"} {
		h.fetcher.data["mem://"+key+".pcm"] = pcm16(16000, 8192)
	}
	m, err := observe.NewMetrics(metric.NewMeterProvider(metric.WithReader(h.reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	factory := func(audio.OutputConfig) (audio.Output, error) {
		h.opened.Add(1)
		return h.out, nil
	}
	base := []Option{
		WithOutputFactory(factory),
		WithClock(h.clock),
		WithFetcher(h.fetcher),
		WithMetrics(m),
	}
	h.engine = New(cfg, append(base, opts...)...)
	t.Cleanup(h.engine.Cleanup)
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if err := h.engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func (h *harness) waitWaiters(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("clock never reached %d waiters: %v", n, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestEngine_NoOpsBeforeInitialize(t *testing.T) {
	h := newHarness(t, testConfig())
	e := h.engine

	e.StartAmbience(context.Background(), "rain")
	e.StopAmbience()
	e.StartScheduler()
	e.StopScheduler()
	e.SetSfxVolume(0.9)
	if e.PlaySfx(context.Background(), "bark", 1) != nil {
		t.Fatal("PlaySfx before init must return nil")
	}
	if err := e.ConnectIntegration(context.Background()); err != nil {
		t.Fatalf("ConnectIntegration before init: %v", err)
	}
	if err := e.PushVoice(pcm16(4, 1)); err != nil {
		t.Fatalf("PushVoice before init: %v", err)
	}

	snap := e.Snapshot()
	if snap.Initialized || snap.ActiveAmbience != "" || snap.Levels.SFX != 0.4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.opened.Load() != 0 {
		t.Fatal("no output should be opened before Initialize")
	}
}

func TestEngine_ConcurrentInitializeBuildsOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	gate := h.fetcher.block("mem://rain.pcm")

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.engine.Initialize(context.Background())
		}()
	}
	h.fetcher.waitInside(t)
	if !h.engine.Snapshot().Loading {
		t.Fatal("expected Loading during preload")
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if got := h.opened.Load(); got != 1 {
		t.Fatalf("output opened %d times", got)
	}
	if err := h.engine.Initialize(context.Background()); err != nil || h.opened.Load() != 1 {
		t.Fatalf("re-Initialize rebuilt the session: %v", err)
	}
	snap := h.engine.Snapshot()
	if !snap.Initialized || snap.Loading || snap.Error != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestEngine_CleanupIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine
	e.StartAmbience(context.Background(), "rain")
	e.StartScheduler()
	e.SetSfxVolume(0.9)

	e.Cleanup()
	e.Cleanup()

	snap := e.Snapshot()
	if snap.Initialized || snap.Loading || snap.Error != nil || snap.ActiveAmbience != "" || snap.SchedulerRunning {
		t.Fatalf("state not reset: %+v", snap)
	}
	if snap.Levels != testConfig().Levels {
		t.Fatalf("levels not reset: %+v", snap.Levels)
	}
	if h.out.Running() {
		t.Fatal("output still running after cleanup")
	}

	h.init(t)
	if !e.Snapshot().Initialized {
		t.Fatal("engine must be re-initializable after cleanup")
	}
}

func TestEngine_AtMostOneAmbienceLoop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine

	for _, key := range []string{"rain", "cafe", "rain", "cafe"} {
		e.StartAmbience(context.Background(), key)
	}
	s := e.session()
	if got := s.ctrl.ActiveCount(audio.BusAmbience); got != 1 {
		t.Fatalf("expected one ambience loop, got %d", got)
	}
	if snap := e.Snapshot(); snap.ActiveAmbience != "cafe" {
		t.Fatalf("active ambience = %q", snap.ActiveAmbience)
	}
	for _, ph := range s.ctrl.Active() {
		if ph.Bus() == audio.BusAmbience && ph.Key() != "cafe" {
			t.Fatalf("stale loop %s still playing", ph.Key())
		}
	}
}

func TestEngine_ConcurrentAmbienceRequestsSettleOnOne(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := "rain"
		if i%2 == 1 {
			key = "cafe"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.StartAmbience(context.Background(), key)
		}()
	}
	wg.Wait()

	if got := e.session().ctrl.ActiveCount(audio.BusAmbience); got > 1 {
		t.Fatalf("expected at most one ambience loop, got %d", got)
	}
}

func TestEngine_UnknownAmbienceKey(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	h.engine.StartAmbience(context.Background(), "rain")
	h.engine.StartAmbience(context.Background(), "volcano")

	if snap := h.engine.Snapshot(); snap.ActiveAmbience != "" {
		t.Fatalf("unready key must not become active, got %q", snap.ActiveAmbience)
	}
	if got := h.engine.session().ctrl.ActiveCount(audio.BusAmbience); got != 0 {
		t.Fatalf("previous loop should be stopped, got %d active", got)
	}
}

func TestEngine_StopAmbienceFadesOut(t *testing.T) {
	cfg := testConfig()
	cfg.AmbienceFadeOut = 400 * time.Millisecond
	h := newHarness(t, cfg)
	h.init(t)
	e := h.engine

	e.StartAmbience(context.Background(), "rain")
	ph := e.session().ctrl.Active()[0]
	e.StopAmbience()
	if e.Snapshot().ActiveAmbience != "" {
		t.Fatal("ambience key should clear immediately")
	}
	if !ph.IsPlaying() {
		t.Fatal("loop should keep playing while fading")
	}

	// ducker ticker + fade timer
	h.waitWaiters(t, 2)
	h.clock.Advance(400 * time.Millisecond)
	eventually(t, "fade to finish", func() bool { return !ph.IsPlaying() })
}

func TestEngine_RestartDuringFadeKeepsOneLoop(t *testing.T) {
	cfg := testConfig()
	cfg.AmbienceFadeOut = 400 * time.Millisecond
	h := newHarness(t, cfg)
	h.init(t)
	e := h.engine
	s := e.session()

	e.StartAmbience(context.Background(), "rain")
	rain := s.ctrl.Active()[0]
	e.StopAmbience()
	e.StartAmbience(context.Background(), "cafe")

	if got := s.ctrl.ActiveCount(audio.BusAmbience); got != 1 {
		t.Fatalf("expected one ambience loop, got %d", got)
	}
	if rain.IsPlaying() {
		t.Fatal("fading loop should be cut off by the new one")
	}
	if got := s.graph.Attached(audio.BusAmbience); got != 1 {
		t.Fatalf("expected one source on the ambience bus, got %d", got)
	}
	if snap := e.Snapshot(); snap.ActiveAmbience != "cafe" {
		t.Fatalf("active ambience = %q", snap.ActiveAmbience)
	}
}

func TestEngine_DuckedSfxGain(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVoiceLink = true
	cfg.AutoConnect = true
	bus := voicelink.NewEventBus()
	h := newHarness(t, cfg, WithVoiceSource(voicelink.NewBusSource(bus)))
	h.init(t)
	e := h.engine

	if !e.Snapshot().Integration.Connected {
		t.Fatal("auto connect should connect the voice link")
	}
	h.waitWaiters(t, 1)

	bus.Publish(voicelink.NewSpeakingStartedEvent())
	if !e.Snapshot().Ducking {
		t.Fatal("speaking should close the gate")
	}
	h.clock.Advance(200 * time.Millisecond)
	eventually(t, "attack ramp", func() bool { return approx(e.EffectiveGain(audio.BusSFX), 0.12) })
	if !approx(e.EffectiveGain(audio.BusAmbience), 0.15) {
		t.Fatalf("ambience gain = %v", e.EffectiveGain(audio.BusAmbience))
	}
	if e.EffectiveGain(audio.BusVoice) != 1 {
		t.Fatal("voice bus must never be ducked")
	}

	bus.Publish(voicelink.NewSpeakingStoppedEvent())
	h.clock.Advance(700 * time.Millisecond)
	eventually(t, "release ramp", func() bool { return approx(e.EffectiveGain(audio.BusSFX), 0.4) })
}

func TestEngine_DisconnectIntegrationRestoresGain(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVoiceLink = true
	cfg.AutoConnect = false
	cfg.Attack = 0
	cfg.Release = 0
	bus := voicelink.NewEventBus()
	h := newHarness(t, cfg, WithVoiceSource(voicelink.NewBusSource(bus)))
	h.init(t)
	e := h.engine

	if e.Snapshot().Integration.Connected {
		t.Fatal("auto connect disabled")
	}
	if err := e.ConnectIntegration(context.Background()); err != nil {
		t.Fatalf("ConnectIntegration: %v", err)
	}
	bus.Publish(voicelink.NewSpeakingStartedEvent())
	if !approx(e.EffectiveGain(audio.BusSFX), 0.12) {
		t.Fatalf("zero attack should snap, got %v", e.EffectiveGain(audio.BusSFX))
	}
	if err := e.DisconnectIntegration(); err != nil {
		t.Fatalf("DisconnectIntegration: %v", err)
	}
	if !approx(e.EffectiveGain(audio.BusSFX), 0.4) {
		t.Fatalf("disconnect should open the gate, got %v", e.EffectiveGain(audio.BusSFX))
	}
}

func TestEngine_VoiceLinkFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVoiceLink = true
	cfg.AutoConnect = true
	h := newHarness(t, cfg, WithVoiceSource(failingSource{}))
	h.init(t)
	e := h.engine

	snap := e.Snapshot()
	if !snap.Initialized || snap.Error != nil {
		t.Fatalf("voice link failure must not fail init: %+v", snap)
	}
	if snap.Integration.Connected || snap.Integration.LastError == nil {
		t.Fatalf("connect failure should be visible: %+v", snap.Integration)
	}
	e.StartAmbience(context.Background(), "rain")
	if e.Snapshot().ActiveAmbience != "rain" {
		t.Fatal("ambience should play without the voice link")
	}
}

func TestEngine_VoiceLinkDisabled(t *testing.T) {
	bus := voicelink.NewEventBus()
	h := newHarness(t, testConfig(), WithVoiceSource(voicelink.NewBusSource(bus)))
	h.init(t)

	if err := h.engine.ConnectIntegration(context.Background()); !errors.Is(err, voicelink.ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	bus.Publish(voicelink.NewSpeakingStartedEvent())
	if h.engine.Snapshot().Ducking {
		t.Fatal("ducker must stay open without a voice link")
	}
}

func TestEngine_SchedulerFiresEverySecond(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine
	e.StartScheduler()
	if !e.Snapshot().SchedulerRunning {
		t.Fatal("scheduler should be running")
	}

	ctrl := e.session().ctrl
	for i := 1; i <= 3; i++ {
		// ducker ticker + scheduler timer
		h.waitWaiters(t, 2)
		h.clock.Advance(time.Second)
		want := i
		eventually(t, "bark one-shot", func() bool { return ctrl.ActiveCount(audio.BusSFX) == want })
	}
	for _, ph := range ctrl.Active() {
		if ph.Key() != "bark" || ph.Mode() != audio.ModeOneShot {
			t.Fatalf("unexpected playback %s %s", ph.Key(), ph.Mode())
		}
	}

	e.StopScheduler()
	if st := e.Snapshot().Scheduler; st.Running || st.Pending != 0 || st.Fires != 3 {
		t.Fatalf("unexpected scheduler stats %+v", st)
	}
	if ctrl.ActiveCount(audio.BusSFX) != 3 {
		t.Fatal("stopping the scheduler must not cut playing one-shots")
	}
}

func TestEngine_SchedulingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.SchedulingEnabled = false
	h := newHarness(t, cfg)
	h.init(t)
	h.engine.StartScheduler()
	if h.engine.Snapshot().SchedulerRunning {
		t.Fatal("scheduler must not start when disabled")
	}
}

func TestEngine_CleanupDuringPreload(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.block("mem://rain.pcm")

	done := make(chan error, 1)
	go func() { done <- h.engine.Initialize(context.Background()) }()
	h.fetcher.waitInside(t)

	h.engine.Cleanup()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCleanedUp) {
			t.Fatalf("expected ErrCleanedUp, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize did not return after Cleanup")
	}
	snap := h.engine.Snapshot()
	if snap.Initialized || snap.Loading || snap.Error != nil {
		t.Fatalf("stale initialization revived state: %+v", snap)
	}
	if h.engine.session() != nil {
		t.Fatal("session kept after cleanup")
	}
	if h.out.Running() {
		t.Fatal("output of the abandoned session still running")
	}
}

func TestEngine_CleanupDuringAutoConnect(t *testing.T) {
	cfg := testConfig()
	cfg.EnableVoiceLink = true
	cfg.AutoConnect = true
	src := newGatedSource()
	h := newHarness(t, cfg, WithVoiceSource(src))

	done := make(chan error, 1)
	go func() { done <- h.engine.Initialize(context.Background()) }()
	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("auto connect never started")
	}
	if h.engine.session() != nil {
		t.Fatal("session published before auto connect finished")
	}

	h.engine.Cleanup()
	close(src.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrCleanedUp) {
			t.Fatalf("expected ErrCleanedUp, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize did not return after Cleanup")
	}
	if got := src.disconnects.Load(); got != 1 {
		t.Fatalf("late connection should be torn down once, got %d disconnects", got)
	}
	if h.out.Running() {
		t.Fatal("output of the abandoned session still running")
	}
	// no ducker ticker left behind
	h.waitWaiters(t, 0)
	if snap := h.engine.Snapshot(); snap.Initialized || snap.Integration.Connected {
		t.Fatalf("stale initialization revived state: %+v", snap)
	}
}

func TestEngine_CleanupDuringPlayLoop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine
	s := e.session()

	gate := h.fetcher.block("mem://storm.pcm")
	defer close(gate)
	go s.registry.Preload(context.Background(), map[string]string{"storm": "mem://storm.pcm"})
	h.fetcher.waitInside(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.StartAmbience(context.Background(), "storm")
	}()
	e.Cleanup()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartAmbience stuck after Cleanup")
	}
	if snap := e.Snapshot(); snap.ActiveAmbience != "" || snap.Initialized {
		t.Fatalf("late play revived state: %+v", snap)
	}
	if got := s.graph.Attached(audio.BusAmbience); got != 0 {
		t.Fatalf("%d sources attached after cleanup", got)
	}
	if len(s.ctrl.Active()) != 0 {
		t.Fatal("handles left after cleanup")
	}
}

func TestEngine_InitializationFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.out.FailWith(errors.New("no audio device"))

	err := h.engine.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected initialization error")
	}
	snap := h.engine.Snapshot()
	if snap.Initialized || snap.Loading || snap.Error == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var failures int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ambience.init.failures" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					failures += dp.Value
				}
			}
		}
	}
	if failures != 1 {
		t.Fatalf("init failures = %d", failures)
	}

	h.init(t)
	if snap := h.engine.Snapshot(); !snap.Initialized || snap.Error != nil {
		t.Fatalf("retry should succeed: %+v", snap)
	}
}

func TestEngine_InvalidGraphConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Output.Channels = 6
	h := newHarness(t, cfg)
	if err := h.engine.Initialize(context.Background()); err == nil {
		t.Fatal("expected graph construction error")
	}
	if h.opened.Load() != 0 {
		t.Fatal("output must not open when the graph fails")
	}
}

func TestEngine_FailedAssetIsAbsorbed(t *testing.T) {
	cfg := testConfig()
	cfg.SFXAssets["phone"] = "mem://missing.pcm"
	h := newHarness(t, cfg)
	h.init(t)

	if h.engine.PlaySfx(context.Background(), "phone", 1) != nil {
		t.Fatal("failed asset must not play")
	}
	if h.engine.PlaySfx(context.Background(), "bark", 0.5) == nil {
		t.Fatal("ready asset should play")
	}
	var failed int
	for _, rec := range h.engine.Snapshot().Assets {
		if rec.State == audio.AssetFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed asset, got %d", failed)
	}
}

func TestEngine_VolumesAndVoiceFeed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init(t)
	e := h.engine

	e.SetSfxVolume(1.5)
	e.SetAmbienceVolume(-1)
	e.SetVoiceVolume(0.5)
	e.SetMasterVolume(1)
	lv := e.Snapshot().Levels
	if lv.SFX != 1 || lv.Ambience != 0 || lv.Voice != 0.5 {
		t.Fatalf("levels not clamped: %+v", lv)
	}

	if err := e.PushVoice(pcm16(8, 16384)); err != nil {
		t.Fatalf("PushVoice: %v", err)
	}
	out := h.out.Pull(4)
	if !approx(float64(out[0][0]), 0.25) || !approx(float64(out[1][3]), 0.25) {
		t.Fatalf("voice not rendered at bus gain: %v", out)
	}
}

func TestEngine_OnChange(t *testing.T) {
	h := newHarness(t, testConfig())
	var mu sync.Mutex
	var last Snapshot
	h.engine.OnChange(func(s Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	h.init(t)
	h.engine.StartAmbience(context.Background(), "rain")

	mu.Lock()
	defer mu.Unlock()
	if !last.Initialized || last.ActiveAmbience != "rain" {
		t.Fatalf("unexpected last snapshot %+v", last)
	}
}
