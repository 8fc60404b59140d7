package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/ambience.yaml"

type AppConfig struct {
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Assets      AssetsConfig      `json:"assets" yaml:"assets"`
	Levels      LevelsConfig      `json:"levels" yaml:"levels"`
	Scheduling  SchedulingConfig  `json:"scheduling" yaml:"scheduling"`
	Ducking     DuckingConfig     `json:"ducking" yaml:"ducking"`
	Integration IntegrationConfig `json:"integration" yaml:"integration"`
	Output      OutputConfig      `json:"output" yaml:"output"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// AssetsConfig maps logical asset keys to URLs, split by the bus they play on.
type AssetsConfig struct {
	Ambience map[string]string `json:"ambience" yaml:"ambience"`
	SFX      map[string]string `json:"sfx" yaml:"sfx"`
	// MaxMB caps the size of a single fetched asset.
	MaxMB int `json:"max_mb" yaml:"max_mb"`
}

type LevelsConfig struct {
	Ambience float64 `json:"ambience" yaml:"ambience"`
	SFX      float64 `json:"sfx" yaml:"sfx"`
	Voice    float64 `json:"voice" yaml:"voice"`
	Master   float64 `json:"master" yaml:"master"`
}

// SchedulingConfig 随机音效调度
type SchedulingConfig struct {
	Enabled      bool       `json:"enabled" yaml:"enabled"`
	AssetKeys    []string   `json:"asset_keys" yaml:"asset_keys"`
	BaseInterval [2]float64 `json:"base_interval" yaml:"base_interval"` // seconds
	VolumeRange  [2]float64 `json:"volume_range" yaml:"volume_range"`
	AvoidRepeat  bool       `json:"avoid_repeat" yaml:"avoid_repeat"`
}

// DuckingConfig 人声闪避
type DuckingConfig struct {
	DuckVolume float64 `json:"duck_volume" yaml:"duck_volume"`
	AttackMs   int     `json:"attack_ms" yaml:"attack_ms"`
	ReleaseMs  int     `json:"release_ms" yaml:"release_ms"`
	TickMs     int     `json:"tick_ms" yaml:"tick_ms"`
	FadeOutMs  int     `json:"ambience_fade_out_ms" yaml:"ambience_fade_out_ms"`
}

type IntegrationConfig struct {
	EnableVoiceLink bool   `json:"enable_voice_link" yaml:"enable_voice_link"`
	AutoConnect     bool   `json:"auto_connect" yaml:"auto_connect"`
	URL             string `json:"url" yaml:"url"`
}

type OutputConfig struct {
	SampleRate      int    `json:"sample_rate" yaml:"sample_rate"`
	Channels        int    `json:"channels" yaml:"channels"`
	FramesPerBuffer int    `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	Device          string `json:"device" yaml:"device"`
}

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		Assets: AssetsConfig{
			Ambience: map[string]string{},
			SFX:      map[string]string{},
			MaxMB:    64,
		},
		Levels: LevelsConfig{
			Ambience: 0.5,
			SFX:      0.6,
			Voice:    1.0,
			Master:   1.0,
		},
		Scheduling: SchedulingConfig{
			Enabled:      true,
			BaseInterval: [2]float64{8, 20},
			VolumeRange:  [2]float64{1, 1},
		},
		Ducking: DuckingConfig{
			DuckVolume: 0.3,
			AttackMs:   150,
			ReleaseMs:  600,
			TickMs:     16,
			FadeOutMs:  400,
		},
		Integration: IntegrationConfig{
			EnableVoiceLink: false,
			AutoConnect:     true,
		},
		Output: OutputConfig{
			SampleRate:      48000,
			Channels:        2,
			FramesPerBuffer: 1024,
		},
	}
}

func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
	if url := strings.TrimSpace(os.Getenv("AMBIENCE_VOICE_URL")); url != "" {
		c.Integration.URL = url
		c.Integration.EnableVoiceLink = true
	}
	if addr := strings.TrimSpace(os.Getenv("AMBIENCE_METRICS_ADDR")); addr != "" {
		c.Metrics.Listen = addr
	}
}

// Validate reports every problem at once.
func (c *AppConfig) Validate() error {
	var errs []error

	levels := map[string]float64{
		"levels.ambience": c.Levels.Ambience,
		"levels.sfx":      c.Levels.SFX,
		"levels.voice":    c.Levels.Voice,
		"levels.master":   c.Levels.Master,
	}
	for _, name := range []string{"levels.ambience", "levels.sfx", "levels.voice", "levels.master"} {
		if v := levels[name]; v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}

	if c.Assets.MaxMB < 0 {
		errs = append(errs, errors.New("assets.max_mb must be non-negative"))
	}

	interval := c.Scheduling.BaseInterval
	if interval[0] < 0 {
		errs = append(errs, errors.New("scheduling.base_interval min must be non-negative"))
	}
	if interval[1] <= 0 {
		errs = append(errs, fmt.Errorf("scheduling.base_interval max must be positive, got %v", interval[1]))
	}
	if interval[0] > interval[1] {
		errs = append(errs, fmt.Errorf("scheduling.base_interval min %v exceeds max %v", interval[0], interval[1]))
	}
	vr := c.Scheduling.VolumeRange
	if vr[0] < 0 || vr[1] > 1 || vr[0] > vr[1] {
		errs = append(errs, fmt.Errorf("scheduling.volume_range must be an ordered range within [0,1], got %v", vr))
	}
	for _, key := range c.Scheduling.AssetKeys {
		if _, ok := c.Assets.SFX[key]; !ok {
			errs = append(errs, fmt.Errorf("scheduling.asset_keys: %q is not defined in assets.sfx", key))
		}
	}

	if c.Ducking.DuckVolume < 0 || c.Ducking.DuckVolume > 1 {
		errs = append(errs, fmt.Errorf("ducking.duck_volume must be within [0,1], got %v", c.Ducking.DuckVolume))
	}
	if c.Ducking.AttackMs < 0 {
		errs = append(errs, errors.New("ducking.attack_ms must be non-negative"))
	}
	if c.Ducking.ReleaseMs < 0 {
		errs = append(errs, errors.New("ducking.release_ms must be non-negative"))
	}
	if c.Ducking.TickMs < 0 {
		errs = append(errs, errors.New("ducking.tick_ms must be non-negative"))
	}
	if c.Ducking.FadeOutMs < 0 {
		errs = append(errs, errors.New("ducking.ambience_fade_out_ms must be non-negative"))
	}

	if c.Output.SampleRate <= 0 {
		errs = append(errs, errors.New("output.sample_rate must be positive"))
	}
	if c.Output.Channels != 1 && c.Output.Channels != 2 {
		errs = append(errs, fmt.Errorf("output.channels must be 1 or 2, got %d", c.Output.Channels))
	}
	if c.Output.FramesPerBuffer < 0 {
		errs = append(errs, errors.New("output.frames_per_buffer must be non-negative"))
	}

	return errors.Join(errs...)
}
