package audio

import (
	"sync"
)

// VoiceStream is a push-fed Source carrying 16-bit PCM from the remote voice
// (for example a TTS or call leg) into the Voice bus.
type VoiceStream struct {
	mu         sync.Mutex
	inputRate  int
	outputRate int
	resampler  Resampler
	pending    []float32 // mono, at outputRate
	maxPending int
	closed     bool
}

// NewVoiceStream accepts mono PCM at inputRate and plays it at outputRate.
// At most maxBuffered of audio is queued; older audio is dropped first.
func NewVoiceStream(inputRate, outputRate int, maxBufferedFrames int) *VoiceStream {
	if maxBufferedFrames <= 0 {
		maxBufferedFrames = outputRate * 10
	}
	return &VoiceStream{
		inputRate:  inputRate,
		outputRate: outputRate,
		resampler:  NewLinearResampler(),
		maxPending: maxBufferedFrames,
	}
}

// Push queues 16-bit little endian mono PCM.
func (s *VoiceStream) Push(pcm []byte) error {
	samples, err := s.resampler.Resample(pcm16ToFloat32(pcm), s.inputRate, s.outputRate, 1)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrGraphClosed
	}
	s.pending = append(s.pending, samples...)
	if over := len(s.pending) - s.maxPending; over > 0 {
		s.pending = s.pending[over:]
	}
	return nil
}

// Close lets the queued audio drain, after which the source detaches.
func (s *VoiceStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *VoiceStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Mix implements Source. An empty open stream mixes silence and stays attached.
func (s *VoiceStream) Mix(out [][]float32, gain float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(out[0])
	if n > len(s.pending) {
		n = len(s.pending)
	}
	for i := 0; i < n; i++ {
		v := s.pending[i] * gain
		for c := range out {
			out[c][i] += v
		}
	}
	s.pending = s.pending[n:]

	return !(s.closed && len(s.pending) == 0)
}
