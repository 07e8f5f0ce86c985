package morse

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Standard selects the reference word used to define words per minute.
type Standard int

const (
	// PARIS counts 50 dit units per word.
	PARIS Standard = iota
	// CODEX counts 60 dit units per word.
	CODEX
)

const (
	MinWPM = 5.0
	MaxWPM = 60.0

	// Both reference words spend 19 units in inter-character and inter-word gaps.
	gapUnits = 19
)

// Units reports the dit units in one reference word.
func (s Standard) Units() int {
	if s == CODEX {
		return 60
	}
	return 50
}

func (s Standard) String() string {
	if s == CODEX {
		return "codex"
	}
	return "paris"
}

// ParseStandard accepts "paris" or "codex" in any case.
func ParseStandard(name string) (Standard, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "paris":
		return PARIS, nil
	case "codex":
		return CODEX, nil
	}
	return PARIS, fmt.Errorf("%w: unknown morse standard %q", sound.ErrParse, name)
}

// Timing describes sending speed.
type Timing struct {
	WPM      float64
	Standard Standard
	// Farnsworth is word speed divided by character speed. Zero or one sends
	// characters at word speed; smaller values stretch only the gaps.
	Farnsworth float64
	// WordSpace stretches the inter-word gap relative to the standard seven
	// units. Zero means one.
	WordSpace float64
}

// WithCharacterWPM sets the Farnsworth ratio from a character speed.
func (t Timing) WithCharacterWPM(charWPM float64) Timing {
	if charWPM > 0 {
		t.Farnsworth = t.WPM / charWPM
	}
	return t
}

func (t Timing) normalized() Timing {
	if t.Farnsworth == 0 {
		t.Farnsworth = 1
	}
	if t.WordSpace == 0 {
		t.WordSpace = 1
	}
	return t
}

// Validate checks the speed bounds.
func (t Timing) Validate() error {
	t = t.normalized()
	if t.WPM < MinWPM || t.WPM > MaxWPM {
		return fmt.Errorf("%w: words per minute %.2f outside [%g,%g]", sound.ErrRange, t.WPM, MinWPM, MaxWPM)
	}
	if t.Farnsworth <= 0 || t.Farnsworth > 1 {
		return fmt.Errorf("%w: farnsworth ratio %.3f must be in (0,1]; character speed may not be slower than word speed", sound.ErrRange, t.Farnsworth)
	}
	if t.WordSpace < 1 {
		return fmt.Errorf("%w: word space %.2f must be at least 1", sound.ErrRange, t.WordSpace)
	}
	return nil
}

// Dit is the length of one element unit in milliseconds, at character speed.
func (t Timing) Dit() float64 {
	t = t.normalized()
	charWPM := t.WPM / t.Farnsworth
	return 60000 / (float64(t.Standard.Units()) * charWPM)
}

// GapDit is the unit used for inter-character and inter-word spacing. It
// equals Dit unless Farnsworth timing stretches the gaps so a reference word
// still takes one minute divided by WPM.
func (t Timing) GapDit() float64 {
	t = t.normalized()
	units := t.Standard.Units()
	word := 60000 / t.WPM
	marks := float64(units-gapUnits) * t.Dit()
	return (word - marks) / gapUnits
}

// CharacterGap is the silence added after a character's last element gap.
func (t Timing) CharacterGap() float64 {
	return 3*t.GapDit() - t.Dit()
}

// WordGap is the silence added after a character gap at a word boundary.
func (t Timing) WordGap() float64 {
	n := t.normalized()
	return 7*t.GapDit()*n.WordSpace - 3*t.GapDit()
}
