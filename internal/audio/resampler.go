package audio

import (
	"fmt"
	"math"
)

// Resampler 采样率转换
// input/output are interleaved float32 samples.
type Resampler interface {
	Resample(input []float32, inputRate, outputRate, channels int) ([]float32, error)
}

// LinearResampler 线性插值重采样器
// 足够用于环境音和语音通道，不追求高频保真
type LinearResampler struct{}

func NewLinearResampler() *LinearResampler {
	return &LinearResampler{}
}

// Resample
//
//	ratio = inputRate / outputRate
//	pos   = outFrame * ratio
//	out   = in[floor(pos)] * (1 - frac) + in[floor(pos)+1] * frac
func (r *LinearResampler) Resample(input []float32, inputRate, outputRate, channels int) ([]float32, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channels: %d", channels)
	}
	inputFrames := len(input) / channels
	if inputFrames == 0 {
		return []float32{}, nil
	}
	if inputRate == outputRate {
		out := make([]float32, inputFrames*channels)
		copy(out, input)
		return out, nil
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputFrames := int(math.Ceil(float64(inputFrames) / ratio))
	out := make([]float32, outputFrames*channels)

	last := inputFrames - 1
	for f := 0; f < outputFrames; f++ {
		pos := float64(f) * ratio
		i0 := int(pos)
		frac := float32(pos - float64(i0))
		if i0 >= last {
			i0 = last
			frac = 0
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		for ch := 0; ch < channels; ch++ {
			a := input[i0*channels+ch]
			b := input[i1*channels+ch]
			out[f*channels+ch] = a + (b-a)*frac
		}
	}
	return out, nil
}
