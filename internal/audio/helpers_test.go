package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
)

// fakeFetcher serves canned bytes. Keys listed in gates block until the gate
// channel is closed.
type fakeFetcher struct {
	mu     sync.Mutex
	data   map[string][]byte
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  map[string]int
	inside chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data:   map[string][]byte{},
		errs:   map[string]error{},
		gates:  map[string]chan struct{}{},
		calls:  map[string]int{},
		inside: make(chan string, 16),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gates[url]
	data, ok := f.data[url]
	err := f.errs[url]
	f.mu.Unlock()

	if gate != nil {
		f.inside <- url
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("not found: " + url)
	}
	return data, nil
}

func (f *fakeFetcher) set(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[url] = data
	delete(f.errs, url)
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) block(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[url] = gate
	return gate
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// constantPCM returns frames of 16-bit mono PCM holding value.
func constantPCM(frames int, value int16) []byte {
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		out[i*2] = byte(value)
		out[i*2+1] = byte(value >> 8)
	}
	return out
}

// sineWAV builds a 16-bit PCM WAV file.
func sineWAV(sampleRate, channels int, freq float64, frames int) []byte {
	var buf bytes.Buffer
	blockAlign := channels * 2
	dataSize := frames * blockAlign

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 16000)
		for ch := 0; ch < channels; ch++ {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

// newTestGraph builds a 16 kHz stereo graph so raw .pcm assets need no resampling.
func newTestGraph(t *testing.T) BusGraph {
	t.Helper()
	cfg := DefaultGraphConfig()
	cfg.SampleRate = RawPCMRate
	g, err := NewBusGraph(cfg)
	if err != nil {
		t.Fatalf("NewBusGraph: %v", err)
	}
	t.Cleanup(g.Cleanup)
	return g
}

func newTestRegistry(f Fetcher) *Registry {
	return NewRegistry(RegistryConfig{SampleRate: RawPCMRate, Channels: 2, Fetcher: f})
}

func frameBuf(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

// constSource adds a fixed value forever.
type constSource struct {
	value float32
	left  int // frames remaining, <0 means endless
}

func (c *constSource) Mix(out [][]float32, gain float32) bool {
	for i := range out[0] {
		if c.left == 0 {
			return false
		}
		for ch := range out {
			out[ch][i] += c.value * gain
		}
		if c.left > 0 {
			c.left--
		}
	}
	return c.left != 0
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}
