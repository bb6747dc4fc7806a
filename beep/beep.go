// Package beep plays short synthesized cues for recording and recognition
// events.
package beep

import (
	"math"
	"sync/atomic"
)

const sampleRate = 44100

// Cue is a decaying sine tone, optionally followed by a second tone.
type Cue struct {
	Freq     float64
	Duration float64
	Volume   float64
	Decay    float64

	// Second tone after Gap seconds; zero means a single tone.
	Freq2 float64
	Gap   float64
}

var (
	// Start is a high, short tick.
	Start = Cue{Freq: 1200, Duration: 0.2, Volume: 0.5, Decay: 60}
	// End is a lower tick, played when capture stops.
	End = Cue{Freq: 900, Duration: 0.2, Volume: 0.5, Decay: 40}
	// Match rises a fifth.
	Match = Cue{Freq: 880, Duration: 0.12, Volume: 0.45, Decay: 25, Freq2: 1320, Gap: 0.03}
	// Error is a low double beep.
	Error = Cue{Freq: 350, Duration: 0.08, Volume: 0.6, Decay: 30, Freq2: 350, Gap: 0.05}
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Disabled() bool { return disabled.Load() }

// Play renders c and plays it without blocking.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	playSamples(Samples(c))
}

// Samples renders c as mono 16-bit PCM at 44.1 kHz.
func Samples(c Cue) []int16 {
	out := tone(c.Freq, c.Duration, c.Volume, c.Decay)
	if c.Freq2 == 0 {
		return out
	}
	out = append(out, make([]int16, int(sampleRate*c.Gap))...)
	return append(out, tone(c.Freq2, c.Duration, c.Volume, c.Decay)...)
}

func tone(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}
