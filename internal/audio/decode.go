package audio

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

// RawPCMRate is the sample rate assumed for headerless .pcm assets
// (16-bit little endian mono).
const RawPCMRate = 16000

// Decode turns an encoded asset into a Buffer at the requested rate and
// channel count. The format is picked from the extension of name.
func Decode(name string, data []byte, sampleRate, channels int, resampler Resampler) (*Buffer, error) {
	if resampler == nil {
		resampler = NewLinearResampler()
	}

	var (
		samples []float32
		srcCh   int
	)
	switch ext := extension(name); ext {
	case ".ogg":
		stream, err := vorbis.DecodeWithSampleRate(sampleRate, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode ogg %s: %w", name, err)
		}
		decoded, err := io.ReadAll(stream)
		if err != nil {
			return nil, fmt.Errorf("read decoded ogg %s: %w", name, err)
		}
		samples, srcCh = pcm16ToFloat32(decoded), 2

	case ".wav":
		stream, err := wav.DecodeWithSampleRate(sampleRate, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode wav %s: %w", name, err)
		}
		decoded, err := io.ReadAll(stream)
		if err != nil {
			return nil, fmt.Errorf("read decoded wav %s: %w", name, err)
		}
		samples, srcCh = pcm16ToFloat32(decoded), 2

	case ".pcm":
		resampled, err := resampler.Resample(pcm16ToFloat32(data), RawPCMRate, sampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("resample pcm %s: %w", name, err)
		}
		samples, srcCh = resampled, 1

	default:
		return nil, fmt.Errorf("%s (%q): %w", name, ext, ErrUnsupportedFormat)
	}

	return &Buffer{
		Samples:    remix(samples, srcCh, channels),
		Channels:   channels,
		SampleRate: sampleRate,
	}, nil
}

// extension ignores query strings so that signed URLs still resolve.
func extension(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	return strings.ToLower(path.Ext(name))
}
