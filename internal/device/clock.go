package device

import (
	"sync"
	"time"
)

// Clock is a playback device without audio output. It consumes queued
// buffers at the real-time rate, which keeps scheduling and drain behaviour
// identical to a speaker on machines that have none.
type Clock struct {
	q      *queue
	tick   time.Duration
	stop   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// NewClock starts a clock device for sampleRate.
func NewClock(sampleRate int) *Clock {
	c := &Clock{
		q:    newQueue(sampleRate),
		tick: 10 * time.Millisecond,
		stop: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Clock) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	perTick := 2 * int(int64(c.q.rate)*int64(c.tick)/int64(time.Second))
	scratch := make([]byte, perTick)
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.q.read(scratch)
		}
	}
}

func (c *Clock) Submit(id int, samples []int16, sampleRate int) error {
	return c.q.submit(id, samples, sampleRate)
}

func (c *Clock) Playing() (bool, error) { return c.q.playing(), nil }

func (c *Clock) Start() error {
	c.q.start()
	return nil
}

func (c *Clock) Release(id int) error { return c.q.release(id) }

func (c *Clock) Processed() (int, error) { return c.q.processed(), nil }

// Close stops the clock and drops anything still queued.
func (c *Clock) Close() error {
	c.closed.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.q.reset()
	})
	return nil
}
