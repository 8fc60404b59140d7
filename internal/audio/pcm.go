package audio

import "time"

// Buffer 解码后的音频，交错 float32，取值 [-1,1]
type Buffer struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// pcm16ToFloat32 converts 16-bit little endian PCM to normalized floats.
// A trailing odd byte is dropped.
func pcm16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}

func float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// remix converts interleaved samples between mono and stereo.
func remix(samples []float32, from, to int) []float32 {
	if from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)
	switch {
	case from == 1 && to == 2:
		for f := 0; f < frames; f++ {
			out[f*2] = samples[f]
			out[f*2+1] = samples[f]
		}
	case from == 2 && to == 1:
		for f := 0; f < frames; f++ {
			out[f] = (samples[f*2] + samples[f*2+1]) / 2
		}
	default:
		for f := 0; f < frames; f++ {
			for ch := 0; ch < to; ch++ {
				out[f*to+ch] = samples[f*from+ch%from]
			}
		}
	}
	return out
}
