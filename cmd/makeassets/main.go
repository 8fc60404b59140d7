package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
)

// asset is one generated clip, written as 16-bit stereo WAV.
type asset struct {
	path     string
	seconds  float64
	generate func(rng *rand.Rand, rate int, n int) []float64
}

var assets = []asset{
	{"ambience/office.wav", 10, officeRoom},
	{"ambience/cafe.wav", 10, cafeMurmur},
	{"sfx/phone.wav", 1.2, phoneRing},
	{"sfx/keyboard.wav", 0.8, keyboardClicks},
	{"sfx/door.wav", 0.6, doorThump},
}

func main() {
	outDir := flag.String("out", "assets", "output directory")
	rate := flag.Int("rate", 48000, "sample rate")
	seed := flag.Uint64("seed", 7, "noise seed")
	flag.Parse()

	if err := generateAll(*outDir, *rate, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "生成失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("完成!")
}

func generateAll(outDir string, rate int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, 0xa11))
	for _, a := range assets {
		n := int(a.seconds * float64(rate))
		samples := a.generate(rng, rate, n)
		path := filepath.Join(outDir, a.path)
		fmt.Printf("生成音频文件: %s (%.1f秒)\n", path, a.seconds)
		if err := writeWAV(path, rate, samples); err != nil {
			return fmt.Errorf("%s: %w", a.path, err)
		}
	}
	return nil
}

func writeWAV(path string, sampleRate int, samples []float64) error {
	const (
		bitsPerSample = 16
		numChannels   = 2
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataSize := len(samples) * blockAlign

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	header := []any{
		[]byte("RIFF"), uint32(36 + dataSize), []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(numChannels),
		uint32(sampleRate), uint32(byteRate), uint16(blockAlign), uint16(bitsPerSample),
		[]byte("data"), uint32(dataSize),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	for _, s := range samples {
		v := int16(math.Max(-1, math.Min(1, s)) * 32767)
		if err := binary.Write(w, binary.LittleEndian, [2]int16{v, v}); err != nil {
			return err
		}
	}
	return w.Flush()
}

// seamless crossfades the tail into the head so the clip loops without a click.
func seamless(s []float64, rate int) []float64 {
	fade := rate / 4
	if fade*2 > len(s) {
		return s
	}
	out := make([]float64, len(s)-fade)
	copy(out, s[:len(out)])
	for i := 0; i < fade; i++ {
		w := float64(i) / float64(fade)
		out[i] = s[i]*w + s[len(out)+i]*(1-w)
	}
	return out
}

// brownNoise integrates white noise with a leak to keep it centred.
func brownNoise(rng *rand.Rand, n int, level float64) []float64 {
	out := make([]float64, n)
	var acc float64
	for i := range out {
		acc = acc*0.995 + (rng.Float64()*2-1)*0.05
		out[i] = acc * level
	}
	return out
}

func officeRoom(rng *rand.Rand, rate, n int) []float64 {
	s := brownNoise(rng, n, 0.8)
	for i := range s {
		t := float64(i) / float64(rate)
		s[i] += 0.02 * math.Sin(2*math.Pi*60*t)
	}
	return seamless(s, rate)
}

func cafeMurmur(rng *rand.Rand, rate, n int) []float64 {
	s := brownNoise(rng, n, 1.0)
	for i := range s {
		t := float64(i) / float64(rate)
		s[i] *= 0.7 + 0.3*math.Sin(2*math.Pi*0.3*t)
	}
	return seamless(s, rate)
}

func phoneRing(_ *rand.Rand, rate, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		t := float64(i) / float64(rate)
		if math.Mod(t, 0.4) > 0.3 {
			continue
		}
		s[i] = 0.25 * (math.Sin(2*math.Pi*440*t) + math.Sin(2*math.Pi*480*t))
	}
	return s
}

func keyboardClicks(rng *rand.Rand, rate, n int) []float64 {
	s := make([]float64, n)
	for pos := rng.IntN(rate / 20); pos < n; pos += rate/15 + rng.IntN(rate/10) {
		click := rate / 200
		for j := 0; j < click && pos+j < n; j++ {
			decay := math.Exp(-float64(j) / float64(click/4+1))
			s[pos+j] += (rng.Float64()*2 - 1) * 0.5 * decay
		}
	}
	return s
}

func doorThump(_ *rand.Rand, rate, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		t := float64(i) / float64(rate)
		s[i] = 0.8 * math.Sin(2*math.Pi*70*t) * math.Exp(-t*9)
	}
	return s
}
