package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-beep/internal/device"
	"github.com/loqalabs/loqa-beep/internal/playback"
	"github.com/loqalabs/loqa-beep/internal/sound"
	"github.com/loqalabs/loqa-beep/internal/wavfile"
)

func TestFileSinkWritesContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	s, err := CreateFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	if err := s.Tone(ctx, 440, 100); err != nil {
		t.Fatalf("tone: %v", err)
	}
	if err := s.Tone(ctx, 0, 50); err != nil {
		t.Fatalf("silence: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, samples, err := wavfile.Read(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(samples) != 4410+2205 {
		t.Fatalf("expected %d samples, got %d", 4410+2205, len(samples))
	}
	for _, v := range samples[4410:] {
		if v != 0 {
			t.Fatalf("expected silence after the tone")
		}
	}
}

func TestFileSinkCreateFailure(t *testing.T) {
	_, err := CreateFile(filepath.Join(t.TempDir(), "missing", "tone.wav"))
	if !errors.Is(err, sound.ErrFileIO) {
		t.Fatalf("expected ErrFileIO, got %v", err)
	}
}

func TestDeviceSinkPlaysOut(t *testing.T) {
	clock := device.NewClock(sound.SampleRate)
	sched, err := playback.New(clock,
		playback.WithBufferSamples(1024),
		playback.WithPollInterval(time.Millisecond),
		playback.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	s := NewDevice(sched, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Tone(ctx, 750, 60); err != nil {
		t.Fatalf("tone: %v", err)
	}
	if err := s.Tone(ctx, 0, 20); err != nil {
		t.Fatalf("silence: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := s.Stats().Samples; got != 2646+882 {
		t.Fatalf("expected %d samples rendered, got %d", 2646+882, got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type fakeLines struct {
	rts, dtr bool
	log      []string
	closed   bool
	fail     error
}

func (f *fakeLines) SetRTS(v bool) error {
	if f.fail != nil {
		return f.fail
	}
	f.rts = v
	f.log = append(f.log, "rts:"+onOff(v))
	return nil
}

func (f *fakeLines) SetDTR(v bool) error {
	f.dtr = v
	f.log = append(f.log, "dtr:"+onOff(v))
	return nil
}

func (f *fakeLines) Close() error {
	f.closed = true
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func TestKeyerKeysToneEvents(t *testing.T) {
	lines := &fakeLines{}
	k, err := NewKeyer(lines, KeyRTS)
	if err != nil {
		t.Fatalf("new keyer: %v", err)
	}
	var slept []time.Duration
	k.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()
	if err := k.Tone(ctx, 750, 60); err != nil {
		t.Fatalf("tone: %v", err)
	}
	if err := k.Tone(ctx, 0, 180); err != nil {
		t.Fatalf("silence: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{"rts:off", "rts:on", "rts:off", "rts:off"}
	if len(lines.log) != len(want) {
		t.Fatalf("line changes %v, want %v", lines.log, want)
	}
	for i := range want {
		if lines.log[i] != want[i] {
			t.Fatalf("line changes %v, want %v", lines.log, want)
		}
	}
	if len(slept) != 2 || slept[0] != 60*time.Millisecond || slept[1] != 180*time.Millisecond {
		t.Fatalf("unexpected sleeps %v", slept)
	}
	if !lines.closed || lines.rts {
		t.Fatalf("expected port closed with the key released")
	}
}

func TestKeyerReleasesKeyOnCancel(t *testing.T) {
	lines := &fakeLines{}
	k, err := NewKeyer(lines, KeyDTR)
	if err != nil {
		t.Fatalf("new keyer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := k.Tone(ctx, 750, 1000); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if lines.dtr {
		t.Fatalf("key left down after cancellation")
	}
}

func TestKeyerErrors(t *testing.T) {
	if _, err := NewKeyer(&fakeLines{}, "cts"); !errors.Is(err, sound.ErrRange) {
		t.Fatalf("expected ErrRange for unknown line, got %v", err)
	}
	if _, err := NewKeyer(&fakeLines{fail: errors.New("unplugged")}, KeyRTS); !errors.Is(err, sound.ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
}
