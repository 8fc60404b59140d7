package ambience

import (
	"time"

	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/config"
	"github.com/liuscraft/orion-ambience/internal/scheduler"
)

// Levels are the user-set base gains per bus, in [0,1].
type Levels struct {
	Ambience float64
	SFX      float64
	Voice    float64
	Master   float64
}

// Config 引擎配置
type Config struct {
	AmbienceAssets map[string]string
	SFXAssets      map[string]string
	Levels         Levels

	SchedulingEnabled bool
	Scheduling        scheduler.Options

	DuckVolume      float64
	Attack          time.Duration
	Release         time.Duration
	Tick            time.Duration
	AmbienceFadeOut time.Duration

	EnableVoiceLink bool
	AutoConnect     bool

	Output             audio.OutputConfig
	MaxConcurrentLoads int
	// MaxAssetBytes caps one fetched asset; 0 uses the fetcher default.
	MaxAssetBytes int64
	// VoiceInputRate is the sample rate of PCM handed to PushVoice.
	VoiceInputRate int
}

func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig())
}

// FromConfig maps the file/env configuration onto the engine.
func FromConfig(c *config.AppConfig) Config {
	seconds := func(v float64) time.Duration {
		return time.Duration(v * float64(time.Second))
	}
	ms := func(v int) time.Duration {
		return time.Duration(v) * time.Millisecond
	}
	return Config{
		AmbienceAssets: copyAssets(c.Assets.Ambience),
		SFXAssets:      copyAssets(c.Assets.SFX),
		Levels: Levels{
			Ambience: c.Levels.Ambience,
			SFX:      c.Levels.SFX,
			Voice:    c.Levels.Voice,
			Master:   c.Levels.Master,
		},
		SchedulingEnabled: c.Scheduling.Enabled,
		Scheduling: scheduler.Options{
			AssetKeys:   append([]string(nil), c.Scheduling.AssetKeys...),
			MinInterval: seconds(c.Scheduling.BaseInterval[0]),
			MaxInterval: seconds(c.Scheduling.BaseInterval[1]),
			MinVolume:   c.Scheduling.VolumeRange[0],
			MaxVolume:   c.Scheduling.VolumeRange[1],
			AvoidRepeat: c.Scheduling.AvoidRepeat,
		},
		DuckVolume:      c.Ducking.DuckVolume,
		Attack:          ms(c.Ducking.AttackMs),
		Release:         ms(c.Ducking.ReleaseMs),
		Tick:            ms(c.Ducking.TickMs),
		AmbienceFadeOut: ms(c.Ducking.FadeOutMs),
		EnableVoiceLink: c.Integration.EnableVoiceLink,
		AutoConnect:     c.Integration.AutoConnect,
		Output: audio.OutputConfig{
			SampleRate:      c.Output.SampleRate,
			Channels:        c.Output.Channels,
			FramesPerBuffer: c.Output.FramesPerBuffer,
			Device:          c.Output.Device,
		},
		MaxConcurrentLoads: 8,
		MaxAssetBytes:      int64(c.Assets.MaxMB) << 20,
		VoiceInputRate:     audio.RawPCMRate,
	}
}

func copyAssets(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// allAssets merges both pools into the registry's single key space. A key
// present in both resolves to the SFX url.
func (c Config) allAssets() map[string]string {
	all := make(map[string]string, len(c.AmbienceAssets)+len(c.SFXAssets))
	for k, v := range c.AmbienceAssets {
		all[k] = v
	}
	for k, v := range c.SFXAssets {
		all[k] = v
	}
	return all
}
