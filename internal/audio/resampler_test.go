package audio

import (
	"math"
	"testing"
)

func TestLinearResampler_SameRate(t *testing.T) {
	resampler := NewLinearResampler()
	input := []float32{0.1, 0.2, 0.3, 0.4, 0.5}

	output, err := resampler.Resample(input, 16000, 16000, 1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(output) != len(input) {
		t.Fatalf("Expected length %d, got %d", len(input), len(output))
	}
	for i := range input {
		if output[i] != input[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, input[i], output[i])
		}
	}
	output[0] = 9
	if input[0] == 9 {
		t.Fatal("same-rate resample must copy")
	}
}

func TestLinearResampler_Lengths(t *testing.T) {
	resampler := NewLinearResampler()
	tests := []struct {
		name     string
		in, out  int
		channels int
		frames   int
	}{
		{"16k to 24k", 16000, 24000, 1, 100},
		{"24k to 16k", 24000, 16000, 1, 150},
		{"16k to 48k stereo", 16000, 48000, 2, 64},
		{"48k to 16k", 48000, 16000, 1, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := make([]float32, tt.frames*tt.channels)
			for i := range input {
				input[i] = float32(i) / float32(len(input))
			}
			output, err := resampler.Resample(input, tt.in, tt.out, tt.channels)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}
			wantFrames := int(math.Ceil(float64(tt.frames) * float64(tt.out) / float64(tt.in)))
			if len(output) != wantFrames*tt.channels {
				t.Fatalf("expected %d samples, got %d", wantFrames*tt.channels, len(output))
			}
			if output[0] != input[0] {
				t.Fatalf("first sample mismatch: %v vs %v", output[0], input[0])
			}
		})
	}
}

func TestLinearResampler_Interpolates(t *testing.T) {
	resampler := NewLinearResampler()
	output, err := resampler.Resample([]float32{0, 1}, 8000, 16000, 1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	want := []float32{0, 0.5, 1, 1}
	if len(output) != len(want) {
		t.Fatalf("expected %v, got %v", want, output)
	}
	for i := range want {
		if math.Abs(float64(output[i]-want[i])) > 1e-6 {
			t.Fatalf("expected %v, got %v", want, output)
		}
	}
}

func TestLinearResampler_StereoChannelsStaySeparate(t *testing.T) {
	resampler := NewLinearResampler()
	input := []float32{1, -1, 1, -1, 1, -1, 1, -1}
	output, err := resampler.Resample(input, 16000, 24000, 2)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for i := 0; i < len(output); i += 2 {
		if output[i] != 1 || output[i+1] != -1 {
			t.Fatalf("channels bled at frame %d: %v %v", i/2, output[i], output[i+1])
		}
	}
}

func TestLinearResampler_InvalidArgs(t *testing.T) {
	resampler := NewLinearResampler()
	input := []float32{0.1, 0.2, 0.3}

	tests := []struct {
		name       string
		inputRate  int
		outputRate int
		channels   int
	}{
		{"zero input rate", 0, 16000, 1},
		{"zero output rate", 16000, 0, 1},
		{"negative input rate", -16000, 16000, 1},
		{"zero channels", 16000, 16000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := resampler.Resample(input, tt.inputRate, tt.outputRate, tt.channels); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	out, err := resampler.Resample(nil, 16000, 24000, 1)
	if err != nil || len(out) != 0 {
		t.Fatalf("empty input: %v %v", out, err)
	}
}

func TestPCMConversionRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1}
	back := pcm16ToFloat32(float32ToPCM16(in))
	for i := range in {
		if math.Abs(float64(back[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d: %v -> %v", i, in[i], back[i])
		}
	}
}

func TestRemix(t *testing.T) {
	stereo := remix([]float32{0.2, 0.4}, 1, 2)
	if len(stereo) != 4 || stereo[0] != 0.2 || stereo[1] != 0.2 || stereo[3] != 0.4 {
		t.Fatalf("mono->stereo: %v", stereo)
	}
	mono := remix([]float32{0.2, 0.4, 1, 0}, 2, 1)
	if len(mono) != 2 || !approx(float64(mono[0]), 0.3) || !approx(float64(mono[1]), 0.5) {
		t.Fatalf("stereo->mono: %v", mono)
	}
}

func BenchmarkLinearResampler_16kTo48k(b *testing.B) {
	resampler := NewLinearResampler()
	input := make([]float32, 1600)
	for i := range input {
		input[i] = float32(math.Sin(float64(i) / 10))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = resampler.Resample(input, 16000, 48000, 1)
	}
}
