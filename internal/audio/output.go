package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-ambience/internal/logging"
)

// RenderFunc fills one device buffer, one slice per channel.
type RenderFunc func(out [][]float32)

// Output 音频输出设备
type Output interface {
	Start(render RenderFunc) error
	Stop() error
}

type OutputConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	// Device is matched case-insensitively as a substring; empty means default.
	Device string
}

// OutputFactory opens an output for the given format.
type OutputFactory func(cfg OutputConfig) (Output, error)

type portAudioOutput struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	render  RenderFunc
	started bool
	closed  bool
}

// NewPortAudioOutput initializes PortAudio and opens a playback stream.
// Failures are wrapped in ErrOutputUnavailable.
func NewPortAudioOutput(cfg OutputConfig) (Output, error) {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputUnavailable, err)
	}

	o := &portAudioOutput{}
	stream, err := openOutputStream(cfg, o.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrOutputUnavailable, err)
	}
	o.stream = stream
	return o, nil
}

func openOutputStream(cfg OutputConfig, callback func(out [][]float32)) (*portaudio.Stream, error) {
	if cfg.Device != "" {
		dev, err := findOutputDeviceByName(cfg.Device)
		if err == nil {
			params := portaudio.HighLatencyParameters(nil, dev)
			params.Output.Channels = cfg.Channels
			params.SampleRate = float64(cfg.SampleRate)
			params.FramesPerBuffer = cfg.FramesPerBuffer
			stream, err := portaudio.OpenStream(params, callback)
			if err == nil {
				logging.Infof("Output: opened %q (%d Hz, %d ch)", dev.Name, cfg.SampleRate, cfg.Channels)
				return stream, nil
			}
			logging.Warnf("Output: open %q failed, falling back to default: %v", dev.Name, err)
		} else {
			logging.Warnf("Output: %v, falling back to default", err)
		}
	}
	return portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, callback)
}

func findOutputDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxOutputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), nameLower) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no output device found matching %q", name)
}

func (o *portAudioOutput) callback(out [][]float32) {
	o.mu.Lock()
	render := o.render
	o.mu.Unlock()
	if render == nil {
		for ch := range out {
			for i := range out[ch] {
				out[ch][i] = 0
			}
		}
		return
	}
	render(out)
}

func (o *portAudioOutput) Start(render RenderFunc) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutputUnavailable
	}
	o.render = render
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	stream := o.stream
	o.mu.Unlock()

	if err := stream.Start(); err != nil {
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return fmt.Errorf("%w: start stream: %v", ErrOutputUnavailable, err)
	}
	return nil
}

func (o *portAudioOutput) Stop() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	stream := o.stream
	started := o.started
	o.stream = nil
	o.render = nil
	o.mu.Unlock()

	var firstErr error
	if stream != nil {
		if started {
			if err := stream.Stop(); err != nil {
				logging.Errorf("Output: failed to stop stream: %v", err)
				firstErr = err
			}
		}
		if err := stream.Close(); err != nil {
			logging.Errorf("Output: failed to close stream: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	portaudio.Terminate()
	return firstErr
}

// PullOutput is a device-less Output: the host pulls rendered buffers itself.
// Used headless and in tests.
type PullOutput struct {
	mu       sync.Mutex
	cfg      OutputConfig
	render   RenderFunc
	started  bool
	startErr error
}

func NewPullOutput(cfg OutputConfig) *PullOutput {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	return &PullOutput{cfg: cfg}
}

// PullOutputFactory returns an OutputFactory handing out the given output.
func PullOutputFactory(o *PullOutput) OutputFactory {
	return func(OutputConfig) (Output, error) { return o, nil }
}

// FailWith makes the next Start fail with err.
func (p *PullOutput) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

func (p *PullOutput) Start(render RenderFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		err := p.startErr
		p.startErr = nil
		return err
	}
	p.render = render
	p.started = true
	return nil
}

func (p *PullOutput) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render = nil
	p.started = false
	return nil
}

func (p *PullOutput) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Pull renders frames frames. Returns silence when not started.
func (p *PullOutput) Pull(frames int) [][]float32 {
	if frames <= 0 {
		frames = p.cfg.FramesPerBuffer
	}
	out := make([][]float32, p.cfg.Channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	p.mu.Lock()
	render := p.render
	p.mu.Unlock()
	if render != nil {
		render(out)
	}
	return out
}
