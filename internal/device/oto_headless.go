//go:build headless

package device

import "errors"

// Speaker is unavailable in headless builds.
type Speaker struct{}

// OpenSpeaker always fails in headless builds; use the clock or exec
// backends instead.
func OpenSpeaker(int) (*Speaker, error) {
	return nil, errors.New("audio output is not compiled into headless builds")
}

func (*Speaker) Submit(int, []int16, int) error { return errors.ErrUnsupported }
func (*Speaker) Playing() (bool, error)         { return false, errors.ErrUnsupported }
func (*Speaker) Start() error                   { return errors.ErrUnsupported }
func (*Speaker) Release(int) error              { return errors.ErrUnsupported }
func (*Speaker) Processed() (int, error)        { return 0, errors.ErrUnsupported }
func (*Speaker) Close() error                   { return nil }
