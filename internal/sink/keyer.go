package sink

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

// KeyLine selects which modem control line keys the transmitter.
type KeyLine string

const (
	KeyRTS KeyLine = "rts"
	KeyDTR KeyLine = "dtr"
)

// ControlLines is the part of a serial port the keyer drives. serial.Port
// satisfies it.
type ControlLines interface {
	SetRTS(bool) error
	SetDTR(bool) error
	Close() error
}

// Keyer keys an external transmitter through a serial control line. The
// transmitter produces the tone, so frequencies only distinguish key-down
// from silence.
type Keyer struct {
	port  ControlLines
	line  KeyLine
	sleep func(context.Context, time.Duration) error
}

// OpenKeyer opens the named serial port and holds the key line low.
func OpenKeyer(name string, baud int, line KeyLine) (*Keyer, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", sound.ErrDevice, name, err)
	}
	k, err := NewKeyer(port, line)
	if err != nil {
		port.Close()
		return nil, err
	}
	return k, nil
}

// NewKeyer keys through port.
func NewKeyer(port ControlLines, line KeyLine) (*Keyer, error) {
	if line != KeyRTS && line != KeyDTR {
		return nil, fmt.Errorf("%w: unknown key line %q", sound.ErrRange, line)
	}
	k := &Keyer{port: port, line: line, sleep: sleepContext}
	if err := k.key(false); err != nil {
		return nil, err
	}
	return k, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (k *Keyer) key(down bool) error {
	var err error
	if k.line == KeyDTR {
		err = k.port.SetDTR(down)
	} else {
		err = k.port.SetRTS(down)
	}
	if err != nil {
		return fmt.Errorf("%w: set %s: %w", sound.ErrDevice, k.line, err)
	}
	return nil
}

func (k *Keyer) Tone(ctx context.Context, freq, ms float64) error {
	if ms <= 0 {
		return nil
	}
	d := time.Duration(ms * float64(time.Millisecond))
	if freq == 0 {
		return k.sleep(ctx, d)
	}
	if err := k.key(true); err != nil {
		return err
	}
	serr := k.sleep(ctx, d)
	if err := k.key(false); err != nil {
		return err
	}
	return serr
}

func (k *Keyer) Flush(context.Context) error { return nil }

func (k *Keyer) Drain(context.Context) error { return nil }

// Close releases the key and closes the port.
func (k *Keyer) Close() error {
	kerr := k.key(false)
	if err := k.port.Close(); err != nil {
		return fmt.Errorf("%w: close port: %w", sound.ErrDevice, err)
	}
	return kerr
}
