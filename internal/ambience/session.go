package ambience

import (
	"context"
	"fmt"

	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/scheduler"
	"github.com/liuscraft/orion-ambience/internal/voicelink"
)

// session owns every component of one initialized engine.
type session struct {
	id       string
	graph    audio.BusGraph
	output   audio.Output
	registry *audio.Registry
	ctrl     *audio.Controller
	ducker   *audio.Ducker
	sched    *scheduler.Scheduler
	adapter  *voicelink.Adapter
	voice    *audio.VoiceStream
}

// buildSession constructs the graph and output first so a missing audio
// device fails before any asset is fetched. The returned session is fully
// running; on error everything built so far is released.
func (e *Engine) buildSession(ctx context.Context, id string) (_ *session, err error) {
	cfg := e.cfg
	s := &session{id: id}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.graph, err = audio.NewBusGraph(&audio.GraphConfig{
		SampleRate: cfg.Output.SampleRate,
		Channels:   cfg.Output.Channels,
		Gains: map[audio.Bus]float64{
			audio.BusMaster:   cfg.Levels.Master,
			audio.BusVoice:    cfg.Levels.Voice,
			audio.BusSFX:      cfg.Levels.SFX,
			audio.BusAmbience: cfg.Levels.Ambience,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bus graph: %w", err)
	}

	s.output, err = e.outputFactory(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	if err = s.output.Start(s.graph.Render); err != nil {
		return nil, fmt.Errorf("start output: %w", err)
	}

	s.voice = audio.NewVoiceStream(cfg.VoiceInputRate, cfg.Output.SampleRate, cfg.Output.SampleRate*10)
	if err = s.graph.Attach(audio.BusVoice, s.voice); err != nil {
		return nil, fmt.Errorf("attach voice stream: %w", err)
	}

	fetcher := e.fetcher
	if fetcher == nil {
		fetcher = audio.NewURLFetcher(audio.WithMaxBytes(cfg.MaxAssetBytes))
	}
	s.registry = audio.NewRegistry(audio.RegistryConfig{
		SampleRate:    cfg.Output.SampleRate,
		Channels:      cfg.Output.Channels,
		MaxConcurrent: cfg.MaxConcurrentLoads,
		Fetcher:       fetcher,
		Metrics:       e.metrics,
	})
	s.registry.Preload(ctx, cfg.allAssets())
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("preload assets: %w", err)
	}

	s.ctrl = audio.NewController(s.graph, s.registry, audio.ControllerConfig{
		Clock:   e.clock,
		Metrics: e.metrics,
	})
	s.ducker = audio.NewDucker(s.graph, &audio.DuckerConfig{
		DuckVolume: cfg.DuckVolume,
		Attack:     cfg.Attack,
		Release:    cfg.Release,
		Tick:       cfg.Tick,
		Buses:      []audio.Bus{audio.BusSFX, audio.BusAmbience},
		Clock:      e.clock,
		Metrics:    e.metrics,
	})
	s.ducker.Start()

	ctrl := s.ctrl
	schedOpts := []scheduler.Option{scheduler.WithClock(e.clock), scheduler.WithMetrics(e.metrics)}
	if e.rng != nil {
		schedOpts = append(schedOpts, scheduler.WithRand(e.rng))
	}
	s.sched = scheduler.New(func(key string, volume float64) {
		ctrl.PlayOneShot(context.Background(), key, audio.BusSFX, audio.WithVolume(volume))
	}, cfg.Scheduling, schedOpts...)

	var source voicelink.Source
	if cfg.EnableVoiceLink {
		source = e.voiceSource
	}
	s.adapter = voicelink.NewAdapter(source, s.ducker, voicelink.WithMetrics(e.metrics))
	s.adapter.OnChange(func(voicelink.IntegrationState) { e.notify() })
	return s, nil
}

// close tears down in dependency order: timers and listeners first, then
// playback, then the device and the graph. Safe on a partially built session.
func (s *session) close() {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.adapter != nil {
		if err := s.adapter.Disconnect(); err != nil {
			logging.Warnf("Engine: disconnect voice link: %v", err)
		}
	}
	if s.ducker != nil {
		s.ducker.Stop()
	}
	if s.ctrl != nil {
		s.ctrl.Close()
	}
	if s.voice != nil {
		s.voice.Close()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.output != nil {
		if err := s.output.Stop(); err != nil {
			logging.Warnf("Engine: stop output: %v", err)
		}
	}
	if s.graph != nil {
		s.graph.Cleanup()
	}
}
