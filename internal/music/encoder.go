package music

import (
	"fmt"
	"iter"
	"strings"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

const (
	MinBPM = 20.0
	MaxBPM = 500.0
)

// Encoder converts notation strings into events at a fixed tempo.
type Encoder struct {
	bpm float64
	gap float64
}

// NewEncoder returns an encoder playing bpm quarter notes per minute and
// leaving gapMS of silence at the end of every note.
func NewEncoder(bpm, gapMS float64) (*Encoder, error) {
	if bpm < MinBPM || bpm > MaxBPM {
		return nil, fmt.Errorf("%w: tempo %.1f bpm outside [%g,%g]", sound.ErrRange, bpm, MinBPM, MaxBPM)
	}
	if gapMS < 0 {
		return nil, fmt.Errorf("%w: gap %.1fms must not be negative", sound.ErrRange, gapMS)
	}
	return &Encoder{bpm: bpm, gap: gapMS}, nil
}

// BPM reports the tempo.
func (e *Encoder) BPM() float64 { return e.bpm }

// Milliseconds converts a length in quarter notes to milliseconds.
func (e *Encoder) Milliseconds(quarters float64) float64 {
	return 1000 * quarters * 60 / e.bpm
}

// Events returns the events for a single parsed note.
func (e *Encoder) Events(n Note) []sound.Event {
	ms := e.Milliseconds(n.Quarters)
	gap := e.gap
	if ms <= gap {
		ms += gap
		gap = 0
	}
	if n.Rest {
		return []sound.Event{sound.Rest(ms)}
	}
	events := []sound.Event{sound.Tone(n.Frequency(), ms-gap)}
	if gap > 0 {
		events = append(events, sound.Rest(gap))
	}
	return events
}

// Encode parses text lazily. A bad token yields its error and ends the
// sequence; the events of earlier tokens have already been produced.
func (e *Encoder) Encode(text string) iter.Seq2[sound.Event, error] {
	return func(yield func(sound.Event, error) bool) {
		for _, token := range strings.Fields(text) {
			n, err := ParseNote(token)
			if err != nil {
				yield(sound.Event{}, err)
				return
			}
			for _, ev := range e.Events(n) {
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}
