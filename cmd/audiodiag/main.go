package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/config"
)

func main() {
	demo := flag.Bool("demo", false, "play a tone and toggle ducking to check attack/release by ear")
	duration := flag.Int("duration", 8, "demo duration in seconds")
	device := flag.String("device", "", "output device name (substring match)")
	flag.Parse()

	fmt.Println("=== PortAudio Output Diagnostics ===")
	fmt.Println()

	if *demo {
		if err := runDuckingDemo(*device, time.Duration(*duration)*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize PortAudio: %v\n", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	hostAPIs, err := portaudio.HostApis()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get host APIs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Found %d Host API(s):\n", len(hostAPIs))
	for i, api := range hostAPIs {
		fmt.Printf("  [%d] %s (devices: %d)\n", i, api.Name, len(api.Devices))
	}
	fmt.Println()

	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		fmt.Printf("Default Output Device: (error: %v)\n", err)
	} else {
		fmt.Printf("Default Output Device: %s\n", defaultOutput.Name)
	}
	fmt.Println()

	devices, err := portaudio.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get devices: %v\n", err)
		os.Exit(1)
	}

	var outputs []*portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxOutputChannels > 0 {
			outputs = append(outputs, dev)
		}
	}
	fmt.Printf("=== Output Devices (%d of %d) ===\n\n", len(outputs), len(devices))

	for i, dev := range outputs {
		marker := ""
		if defaultOutput != nil && dev.Name == defaultOutput.Name {
			marker = " [DEFAULT]"
		}
		if isBluetooth(dev.Name) {
			marker += " (Bluetooth?)"
		}
		fmt.Printf("[%d] %s%s\n", i, dev.Name, marker)
		fmt.Printf("    Max Output Channels: %d\n", dev.MaxOutputChannels)
		fmt.Printf("    Default Sample Rate: %.0f Hz\n", dev.DefaultSampleRate)
		fmt.Printf("    Output Latency: Low=%.1fms, High=%.1fms\n",
			dev.DefaultLowOutputLatency.Seconds()*1000,
			dev.DefaultHighOutputLatency.Seconds()*1000)
		fmt.Println()
	}

	if defaultOutput != nil {
		printRecommendedConfig(defaultOutput)
	}
}

func isBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"bluetooth", "airpods", "buds", "wireless", "headset"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// recommendedOutput derives output settings for a device: its native rate,
// at most two channels, and a buffer covering the high output latency.
func recommendedOutput(dev *portaudio.DeviceInfo) config.OutputConfig {
	rate := int(dev.DefaultSampleRate)
	if rate <= 0 {
		rate = 48000
	}
	channels := dev.MaxOutputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		channels = 1
	}
	frames := 256
	latencyFrames := int(dev.DefaultHighOutputLatency.Seconds() * float64(rate))
	for frames < latencyFrames && frames < 4096 {
		frames *= 2
	}
	return config.OutputConfig{
		SampleRate:      rate,
		Channels:        channels,
		FramesPerBuffer: frames,
		Device:          dev.Name,
	}
}

func printRecommendedConfig(dev *portaudio.DeviceInfo) {
	out := recommendedOutput(dev)
	fmt.Println("=== Recommended Config for Default Output Device ===")
	fmt.Println()
	fmt.Printf("Add this to your %s:\n\n", config.DefaultPath)
	fmt.Println("output:")
	fmt.Printf("  sample_rate: %d\n", out.SampleRate)
	fmt.Printf("  channels: %d\n", out.Channels)
	fmt.Printf("  frames_per_buffer: %d\n", out.FramesPerBuffer)
	fmt.Printf("  device: %q\n", out.Device)
	fmt.Println()
}

// tone is an endless sine source for the demo.
type tone struct {
	mu    sync.Mutex
	freq  float64
	rate  float64
	phase float64
}

func (t *tone) Mix(out [][]float32, gain float32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	step := 2 * math.Pi * t.freq / t.rate
	for i := range out[0] {
		v := float32(0.4*math.Sin(t.phase)) * gain
		for ch := range out {
			out[ch][i] += v
		}
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return true
}

func runDuckingDemo(device string, duration time.Duration) error {
	cfg := config.DefaultConfig()
	outCfg := audio.OutputConfig{
		SampleRate:      cfg.Output.SampleRate,
		Channels:        cfg.Output.Channels,
		FramesPerBuffer: cfg.Output.FramesPerBuffer,
		Device:          device,
	}

	graph, err := audio.NewBusGraph(&audio.GraphConfig{
		SampleRate: outCfg.SampleRate,
		Channels:   outCfg.Channels,
		Gains:      map[audio.Bus]float64{audio.BusAmbience: 1},
	})
	if err != nil {
		return err
	}
	defer graph.Cleanup()

	out, err := audio.NewPortAudioOutput(outCfg)
	if err != nil {
		return err
	}
	if err := out.Start(graph.Render); err != nil {
		return err
	}
	defer out.Stop()

	if err := graph.Attach(audio.BusAmbience, &tone{freq: 220, rate: float64(outCfg.SampleRate)}); err != nil {
		return err
	}

	duckCfg := audio.DefaultDuckerConfig()
	duckCfg.DuckVolume = cfg.Ducking.DuckVolume
	duckCfg.Attack = time.Duration(cfg.Ducking.AttackMs) * time.Millisecond
	duckCfg.Release = time.Duration(cfg.Ducking.ReleaseMs) * time.Millisecond
	ducker := audio.NewDucker(graph, duckCfg)
	ducker.Start()
	defer ducker.Stop()

	fmt.Printf("Playing 220 Hz on the ambience bus, toggling voice every 2s (duck=%.2f attack=%v release=%v)\n",
		duckCfg.DuckVolume, duckCfg.Attack, duckCfg.Release)

	toggle := time.NewTicker(2 * time.Second)
	defer toggle.Stop()
	report := time.NewTicker(100 * time.Millisecond)
	defer report.Stop()
	deadline := time.After(duration)

	active := false
	for {
		select {
		case <-deadline:
			fmt.Println("\nDone.")
			return nil
		case <-toggle.C:
			active = !active
			ducker.SetVoiceActive(active)
		case <-report.C:
			st := ducker.State()
			fmt.Printf("\rgate=%-6s multiplier=%.3f ambience gain=%.3f ", st.Gate, st.Current, graph.EffectiveGain(audio.BusAmbience))
		}
	}
}
