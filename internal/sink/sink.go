// Package sink holds the tone sinks a run writes events to. Exactly one is
// active per engine.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-beep/internal/playback"
	"github.com/loqalabs/loqa-beep/internal/sound"
	"github.com/loqalabs/loqa-beep/internal/wavfile"
)

// Sink consumes tone events. A frequency of zero is a silence.
type Sink interface {
	Tone(ctx context.Context, freq, ms float64) error
	// Flush hands any partially collected audio onward.
	Flush(ctx context.Context) error
	// Drain blocks until everything handed onward has been played.
	Drain(ctx context.Context) error
	Close() error
}

// Device plays events through the buffer scheduler.
type Device struct {
	sched *playback.Scheduler
	dev   io.Closer
}

// NewDevice wraps sched. dev, when not nil, is closed after the final drain.
func NewDevice(sched *playback.Scheduler, dev io.Closer) *Device {
	return &Device{sched: sched, dev: dev}
}

func (d *Device) Tone(ctx context.Context, freq, ms float64) error {
	return d.sched.Push(ctx, freq, ms)
}

func (d *Device) Flush(ctx context.Context) error { return d.sched.Flush(ctx) }

func (d *Device) Drain(ctx context.Context) error { return d.sched.WaitForDrain(ctx) }

// Stats exposes the scheduler counters.
func (d *Device) Stats() playback.Stats { return d.sched.Stats() }

// Close plays out whatever is pending and closes the device.
func (d *Device) Close() error {
	ctx := context.Background()
	err := d.sched.Flush(ctx)
	if err == nil {
		err = d.sched.WaitForDrain(ctx)
	}
	if d.dev != nil {
		err = errors.Join(err, d.dev.Close())
	}
	return err
}

// File writes events to a WAV file.
type File struct {
	f *os.File
	w *wavfile.Writer
}

// CreateFile creates (or truncates) path and writes the header placeholder.
func CreateFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	s, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewFile writes to an already open, empty file. Close closes f.
func NewFile(f *os.File) (*File, error) {
	w, err := wavfile.Begin(f)
	if err != nil {
		return nil, err
	}
	return &File{f: f, w: w}, nil
}

// Path reports the file name.
func (s *File) Path() string { return s.f.Name() }

// Samples reports how many samples were written.
func (s *File) Samples() int { return s.w.Samples() }

func (s *File) Tone(ctx context.Context, freq, ms float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.w.WriteEvent(freq, ms)
}

func (s *File) Flush(context.Context) error { return nil }

func (s *File) Drain(context.Context) error { return nil }

// Close patches the header and closes the file.
func (s *File) Close() error {
	err := s.w.Finish()
	if cerr := s.f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: %w", sound.ErrFileIO, cerr)
	}
	return err
}

var (
	_ Sink = (*Device)(nil)
	_ Sink = (*File)(nil)
	_ Sink = (*Keyer)(nil)
)
