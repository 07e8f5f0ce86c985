package music

import (
	"fmt"
	"io"
	"math"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	ticksPerQuarter = smf.MetricTicks(960)
	velocity        = 100
)

// WriteSMF writes notes as a single-track Standard MIDI File at bpm.
func WriteSMF(w io.Writer, notes []Note, bpm float64, name string) error {
	var tr smf.Track
	if name != "" {
		tr.Add(0, smf.MetaTrackSequenceName(name))
	}
	tr.Add(0, smf.MetaTempo(bpm))

	var pending uint32
	for _, n := range notes {
		ticks := uint32(math.Round(n.Quarters * float64(ticksPerQuarter.Ticks4th())))
		if n.Rest {
			pending += ticks
			continue
		}
		key := uint8(n.Pitch)
		tr.Add(pending, midi.NoteOn(0, key, velocity))
		tr.Add(ticks, midi.NoteOff(0, key))
		pending = 0
	}
	tr.Close(pending)

	s := smf.New()
	s.TimeFormat = ticksPerQuarter
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}
