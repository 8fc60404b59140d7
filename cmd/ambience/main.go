package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/liuscraft/orion-ambience/internal/ambience"
	"github.com/liuscraft/orion-ambience/internal/config"
	"github.com/liuscraft/orion-ambience/internal/logging"
	"github.com/liuscraft/orion-ambience/internal/observe"
	"github.com/liuscraft/orion-ambience/internal/voicelink"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	ambienceKey := flag.String("ambience", "", "ambience loop to start (default: first configured key)")
	noScheduler := flag.Bool("no-scheduler", false, "do not start the sound effect scheduler")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logging.Infof("Ambience %s starting (config %s)", version, *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logging.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("Metrics shutdown: %v", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		logging.Fatalf("Failed to create metrics: %v", err)
	}

	var server *http.Server
	if appConfig.Metrics.Listen != "" {
		server = newMetricsServer(appConfig.Metrics.Listen, provider.Handler)
		go func() {
			logging.Infof("Serving metrics on %s/metrics", appConfig.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Errorf("Metrics server: %v", err)
			}
		}()
	}

	var engine *ambience.Engine
	opts := []ambience.Option{ambience.WithMetrics(metrics)}
	if src := newVoiceSource(appConfig.Integration, func(pcm []byte) {
		if err := engine.PushVoice(pcm); err != nil {
			logging.Debugf("Voice frame dropped: %v", err)
		}
	}); src != nil {
		opts = append(opts, ambience.WithVoiceSource(src))
	}
	engineConfig := ambience.FromConfig(appConfig)
	engine = ambience.New(engineConfig, opts...)
	engine.OnChange(func(s ambience.Snapshot) {
		logging.Debugf("State: initialized=%v ambience=%q scheduler=%v ducking=%v voice=%s",
			s.Initialized, s.ActiveAmbience, s.SchedulerRunning, s.Ducking, s.Integration.Link)
	})

	if err := engine.Initialize(ctx); err != nil {
		logging.Fatalf("Failed to initialize audio engine: %v", err)
	}

	if key := pickAmbience(appConfig, *ambienceKey); key != "" {
		engine.StartAmbience(ctx, key)
	} else {
		logging.Warnf("No ambience configured, running effects only")
	}
	if !*noScheduler {
		engine.StartScheduler()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logging.Infof("Ambience running. Press Ctrl+C to stop.")
	<-sigCh

	logging.Infof("Shutting down...")
	fadeAndCleanup(engine, engineConfig.AmbienceFadeOut, sigCh)
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = server.Shutdown(shutdownCtx)
		done()
	}
	logging.Infof("Ambience stopped.")
}

// fadeAndCleanup lets the ambience loop fade out before the engine is
// released. Another signal on interrupt skips the wait.
func fadeAndCleanup(engine *ambience.Engine, fade time.Duration, interrupt <-chan os.Signal) {
	engine.StopAmbience()
	if fade > 0 {
		select {
		case <-time.After(fade):
		case <-interrupt:
			logging.Warnf("Interrupted again, skipping fade out")
		}
	}
	engine.Cleanup()
}

func newMetricsServer(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newVoiceSource returns nil when the voice link is disabled or has no url.
func newVoiceSource(cfg config.IntegrationConfig, sink func([]byte)) voicelink.Source {
	if !cfg.EnableVoiceLink {
		return nil
	}
	if cfg.URL == "" {
		logging.Warnf("Voice link enabled without integration.url, ducking stays open")
		return nil
	}
	return voicelink.NewWebSocketSource(cfg.URL, voicelink.WithAudioSink(sink))
}

// pickAmbience prefers the requested key, else the first configured one in
// key order.
func pickAmbience(cfg *config.AppConfig, requested string) string {
	if requested != "" {
		return requested
	}
	keys := make([]string, 0, len(cfg.Assets.Ambience))
	for k := range cfg.Assets.Ambience {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}
