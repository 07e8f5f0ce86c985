package music

import (
	"fmt"
	"math"
	"strings"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

const (
	MinPitch = 16
	MaxPitch = 127

	// ReferencePitch is A above middle C.
	ReferencePitch     = 69
	ReferenceFrequency = 440.0
)

// Note is one parsed token of a notation string.
type Note struct {
	Rest     bool
	Pitch    int
	Quarters float64
}

// Frequency converts a pitch number to Hz on the equal-tempered scale.
func Frequency(pitch int) float64 {
	return ReferenceFrequency * math.Pow(2, float64(pitch-ReferencePitch)/12)
}

// Frequency returns the note's frequency, or 0 for a rest.
func (n Note) Frequency() float64 {
	if n.Rest {
		return 0
	}
	return Frequency(n.Pitch)
}

var pitchClasses = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

var durations = map[byte]float64{
	'D': 8, 'W': 4, 'H': 2, 'Q': 1, 'E': 0.5, 'S': 0.25, 'T': 0.125,
}

// ParseNote parses a single token such as "C#4q.", "60h", "Rq" or "Bb3h.e".
func ParseNote(token string) (Note, error) {
	if token == "" {
		return Note{}, fmt.Errorf("%w: empty note", sound.ErrParse)
	}
	var (
		n    Note
		rest string
		err  error
	)
	c := token[0]
	_, isLetter := pitchClasses[upper(c)]
	switch {
	case c == 'r' || c == 'R':
		n.Rest = true
		rest = token[1:]
	case isDigit(c):
		n.Pitch, rest = parseNumber(token)
	case isLetter:
		n.Pitch, rest, err = parseLetter(token)
	default:
		return Note{}, fmt.Errorf("%w: note %q must start with a pitch, number or rest", sound.ErrParse, token)
	}
	if err != nil {
		return Note{}, err
	}
	if !n.Rest && (n.Pitch < MinPitch || n.Pitch > MaxPitch) {
		return Note{}, fmt.Errorf("%w: pitch %d in %q outside [%d,%d]", sound.ErrRange, n.Pitch, token, MinPitch, MaxPitch)
	}
	n.Quarters, err = parseDuration(rest)
	if err != nil {
		return Note{}, fmt.Errorf("%w in %q", err, token)
	}
	return n, nil
}

func parseNumber(token string) (int, string) {
	i := 0
	pitch := 0
	for i < len(token) && isDigit(token[i]) {
		// saturate; the range check rejects it anyway
		pitch = min(pitch*10+int(token[i]-'0'), 1000)
		i++
	}
	return pitch, token[i:]
}

func parseLetter(token string) (int, string, error) {
	pitch := pitchClasses[upper(token[0])]
	i := 1
	if i < len(token) {
		switch token[i] {
		case '#':
			pitch++
			i++
		case 'b':
			pitch--
			i++
		}
	}
	if i >= len(token) || !isDigit(token[i]) {
		return 0, "", fmt.Errorf("%w: note %q is missing an octave digit", sound.ErrParse, token)
	}
	pitch += 12 * (int(token[i]-'0') + 1)
	return pitch, token[i+1:], nil
}

func parseDuration(suffix string) (float64, error) {
	if suffix == "" {
		return 1, nil
	}
	total := 0.0
	for i := 0; i < len(suffix); {
		quarters, ok := durations[upper(suffix[i])]
		if !ok {
			return 0, fmt.Errorf("%w: unknown duration %q", sound.ErrParse, suffix[i:])
		}
		i++
		if i < len(suffix) && suffix[i] == '.' {
			quarters *= 1.5
			i++
		}
		if i < len(suffix) && suffix[i] == '3' {
			quarters *= 2.0 / 3.0
			i++
		}
		total += quarters
	}
	return total, nil
}

// Parse parses every whitespace separated token of text.
func Parse(text string) ([]Note, error) {
	var notes []Note
	for _, token := range strings.Fields(text) {
		n, err := ParseNote(token)
		if err != nil {
			return notes, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// Name spells a pitch number with sharps, e.g. 60 is "C4".
func Name(pitch int) string {
	names := [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	return fmt.Sprintf("%s%d", names[pitch%12], pitch/12-1)
}

// String spells the note and its length in quarters, e.g. "C4 1.5q".
func (n Note) String() string {
	if n.Rest {
		return fmt.Sprintf("rest %gq", n.Quarters)
	}
	return fmt.Sprintf("%s %gq", Name(n.Pitch), n.Quarters)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
