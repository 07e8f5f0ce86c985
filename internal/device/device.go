// Package device provides the concrete playback devices driven by the
// buffer scheduler.
package device

import (
	"fmt"
	"io"

	"github.com/loqalabs/loqa-beep/internal/playback"
)

// Backend names accepted by Open.
const (
	KindSpeaker  = "oto"
	KindHeadless = "headless"
	KindExec     = "exec"
)

// Device is a playback device that owns resources until closed.
type Device interface {
	playback.Device
	io.Closer
}

var (
	_ Device = (*Clock)(nil)
	_ Device = (*Pipe)(nil)
	_ Device = (*Speaker)(nil)
)

// Open returns the device named kind. command is only used by the exec
// backend.
func Open(kind, command string, sampleRate int) (Device, error) {
	switch kind {
	case KindSpeaker, "":
		s, err := OpenSpeaker(sampleRate)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindHeadless:
		return NewClock(sampleRate), nil
	case KindExec:
		p, err := OpenPipe(command, sampleRate)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown device %q", kind)
	}
}
