package morse

import (
	"iter"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Encoder turns text into keyed tone events.
type Encoder struct {
	freq   float64
	timing Timing
}

// NewEncoder validates timing and returns an encoder sending at freq Hz.
func NewEncoder(freq float64, timing Timing) (*Encoder, error) {
	if err := sound.CheckFrequency(freq); err != nil {
		return nil, err
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{freq: freq, timing: timing.normalized()}, nil
}

// Timing returns the validated timing.
func (e *Encoder) Timing() Timing { return e.timing }

// Encode yields the events for text. Characters without a code act as word
// separators; a run of them produces a single word gap.
func (e *Encoder) Encode(text string) iter.Seq[sound.Event] {
	dit := e.timing.Dit()
	charGap := e.timing.CharacterGap()
	wordGap := e.timing.WordGap()

	return func(yield func(sound.Event) bool) {
		wasSpace := false
		for _, r := range text {
			code, ok := Lookup(r)
			if !ok {
				if !wasSpace && !yield(sound.Rest(wordGap)) {
					return
				}
				wasSpace = true
				continue
			}
			for _, sym := range code {
				length := dit
				if sym == '-' {
					length = 3 * dit
				}
				if !yield(sound.Tone(e.freq, length)) {
					return
				}
				if !yield(sound.Rest(dit)) {
					return
				}
			}
			if !yield(sound.Rest(charGap)) {
				return
			}
			wasSpace = false
		}
	}
}
