//go:build !headless

package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

func otoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx, otoRate = ctx, sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio context already open at %d Hz", otoRate)
	}
	return otoCtx, nil
}

// Speaker plays buffers on the system audio output.
type Speaker struct {
	q      *queue
	player *oto.Player
	mu     sync.Mutex
	closed bool
}

// OpenSpeaker opens the default audio output as 16-bit mono PCM.
func OpenSpeaker(sampleRate int) (*Speaker, error) {
	ctx, err := otoContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	s := &Speaker{q: newQueue(sampleRate)}
	s.player = ctx.NewPlayer(silencePadded{s.q})
	return s, nil
}

// silencePadded never runs dry so the oto player keeps pulling while the
// queue is stopped.
type silencePadded struct{ q *queue }

func (r silencePadded) Read(p []byte) (int, error) {
	n := r.q.read(p)
	clear(p[n:])
	return len(p), nil
}

func (s *Speaker) Submit(id int, samples []int16, sampleRate int) error {
	return s.q.submit(id, samples, sampleRate)
}

func (s *Speaker) Playing() (bool, error) { return s.q.playing(), nil }

func (s *Speaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audio output is closed")
	}
	s.q.start()
	if !s.player.IsPlaying() {
		s.player.Play()
	}
	return nil
}

func (s *Speaker) Release(id int) error { return s.q.release(id) }

func (s *Speaker) Processed() (int, error) { return s.q.processed(), nil }

// Close waits for audio already handed to the output to be heard, then
// closes the player.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for s.q.playing() {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	s.q.reset()
	return s.player.Close()
}
