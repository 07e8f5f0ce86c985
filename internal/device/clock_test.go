package device

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClockConsumesAtRealTime(t *testing.T) {
	c := NewClock(44100)
	defer c.Close()

	// 50 ms of audio.
	if err := c.Submit(0, make([]int16, 2205), 44100); err != nil {
		t.Fatalf("submit: %v", err)
	}
	began := time.Now()
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		n, _ := c.Processed()
		return n == 1
	})
	if elapsed := time.Since(began); elapsed < 30*time.Millisecond {
		t.Fatalf("buffer drained too fast: %v", elapsed)
	}
	if playing, _ := c.Playing(); playing {
		t.Fatalf("expected clock to stop after draining")
	}
	if err := c.Release(0); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestPipeFeedsCommand(t *testing.T) {
	p, err := OpenPipe("cat", 44100)
	if err != nil {
		t.Skipf("cat unavailable: %v", err)
	}
	if err := p.Submit(0, make([]int16, 4410), 44100); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		n, _ := p.Processed()
		return n == 1
	})
	if err := p.Release(0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	if _, err := Open("theremin", "", 44100); err == nil {
		t.Fatalf("expected error for unknown device kind")
	}
	if _, err := Open(KindExec, "   ", 44100); err == nil {
		t.Fatalf("expected error for empty player command")
	}
}
