package audio

import (
	"errors"
	"fmt"
)

var (
	ErrGraphClosed       = errors.New("audio: bus graph closed")
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	ErrOutputUnavailable = errors.New("audio: output device unavailable")
	ErrUnknownBus        = errors.New("audio: unknown bus")
)

// Bus 总线，所有播放都经过其中之一
type Bus int

const (
	BusMaster Bus = iota
	BusVoice
	BusSFX
	BusAmbience
)

// MixBuses are the buses wired into master, in render order.
var MixBuses = []Bus{BusVoice, BusSFX, BusAmbience}

func (b Bus) String() string {
	switch b {
	case BusMaster:
		return "master"
	case BusVoice:
		return "voice"
	case BusSFX:
		return "sfx"
	case BusAmbience:
		return "ambience"
	default:
		return fmt.Sprintf("bus(%d)", int(b))
	}
}

func (b Bus) valid() bool {
	return b >= BusMaster && b <= BusAmbience
}

// Source 挂在总线上的音源
// Mix adds its next len(out[0]) frames into out, scaled by gain, and reports
// whether it still has audio to give. A source returning false is detached.
type Source interface {
	Mix(out [][]float32, gain float32) bool
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
