package sound

import (
	"iter"
	"math"
)

const (
	// SampleRate is the fixed output rate in samples per second.
	SampleRate = 44100

	// RampDuration caps the fade in/out applied to every tone, in milliseconds.
	RampDuration = 5.0

	// RampFraction caps the ramp relative to the tone length so short tones
	// still reach full amplitude.
	RampFraction = 0.3

	amplitude = 32767
)

// Run is the rendered form of one event: a finite, restartable sequence of
// signed 16-bit samples. The zero value is an empty run.
type Run struct {
	freq  float64
	total int
	ramp  int
}

// Render prepares the samples for a tone of freq Hz lasting ms milliseconds.
// No samples are computed until they are read.
func Render(freq, ms float64) Run {
	if ms <= 0 || math.IsNaN(ms) {
		return Run{freq: freq}
	}
	rampMS := math.Min(RampDuration, ms*RampFraction)
	return Run{
		freq:  freq,
		total: samplesFor(ms),
		ramp:  samplesFor(rampMS),
	}
}

func samplesFor(ms float64) int {
	return int(0.001 * ms * SampleRate)
}

// Len reports the number of samples in the run.
func (r Run) Len() int { return r.total }

// Ramp reports the fade length in samples.
func (r Run) Ramp() int { return r.ramp }

// Frequency reports the tone frequency; zero means silence.
func (r Run) Frequency() float64 { return r.freq }

// At returns sample k. Indexes outside the run are silent.
func (r Run) At(k int) int16 {
	if r.freq == 0 || k < 0 || k >= r.total {
		return 0
	}
	theta := 2 * math.Pi * r.freq * float64(k) / SampleRate
	value := math.Sin(theta) * amplitude
	if r.ramp > 0 {
		if k < r.ramp {
			value *= math.Sin(0.5 * math.Pi * float64(k) / float64(r.ramp))
		} else if k > r.total-r.ramp {
			value *= math.Sin(0.5 * math.Pi * float64(r.total-k) / float64(r.ramp))
		}
	}
	return int16(math.Round(value))
}

// Fill writes samples starting at index start into dst and returns how many
// were written: min(len(dst), Len()-start).
func (r Run) Fill(dst []int16, start int) int {
	if start < 0 || start >= r.total {
		return 0
	}
	n := min(len(dst), r.total-start)
	if r.freq == 0 {
		clear(dst[:n])
		return n
	}
	for i := 0; i < n; i++ {
		dst[i] = r.At(start + i)
	}
	return n
}

// Samples renders the whole run into a new slice.
func (r Run) Samples() []int16 {
	out := make([]int16, r.total)
	r.Fill(out, 0)
	return out
}

// All iterates the samples in order. Each call starts from the beginning.
func (r Run) All() iter.Seq[int16] {
	return func(yield func(int16) bool) {
		for k := 0; k < r.total; k++ {
			if !yield(r.At(k)) {
				return
			}
		}
	}
}
