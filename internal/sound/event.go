package sound

import (
	"fmt"
	"iter"
)

// Event is one tone or silence of a given length.
type Event struct {
	Silence   bool
	Frequency float64
	Duration  float64 // milliseconds
}

// Tone returns a sounding event. A zero frequency is treated as silence.
func Tone(freq, ms float64) Event {
	if freq == 0 {
		return Rest(ms)
	}
	return Event{Frequency: freq, Duration: ms}
}

// Rest returns a silent event.
func Rest(ms float64) Event {
	return Event{Silence: true, Duration: ms}
}

func (e Event) String() string {
	if e.Silence {
		return fmt.Sprintf("rest %.1fms", e.Duration)
	}
	return fmt.Sprintf("%.2fHz %.1fms", e.Frequency, e.Duration)
}

// Repeat plays a tone repeats times, each followed by gapMS of silence.
func Repeat(freq, ms, gapMS float64, repeats int) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for k := 0; k < repeats; k++ {
			if !yield(Tone(freq, ms)) {
				return
			}
			if !yield(Rest(gapMS)) {
				return
			}
		}
	}
}

// TotalDuration sums the durations of a finite event sequence.
func TotalDuration(events iter.Seq[Event]) float64 {
	var total float64
	for e := range events {
		total += e.Duration
	}
	return total
}

// Audible frequency bounds accepted for tones, in Hz.
const (
	MinFrequency = 20.0
	MaxFrequency = 20000.0
)

// CheckFrequency rejects tone frequencies outside the audible bounds.
func CheckFrequency(freq float64) error {
	if freq < MinFrequency || freq > MaxFrequency {
		return fmt.Errorf("%w: frequency %.1fHz outside [%g,%g]", ErrRange, freq, MinFrequency, MaxFrequency)
	}
	return nil
}
