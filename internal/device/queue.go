package device

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
)

type entry struct {
	id  int
	pcm []byte
	pos int
}

// queue keeps the buffer bookkeeping shared by every backend: submitted
// buffers in play order, finished buffers waiting for release, and whether
// playback is running. Backends pull PCM from it on their own goroutine.
type queue struct {
	mu       sync.Mutex
	rate     int
	pending  []*entry
	finished []int
	running  bool
	wake     chan struct{}
}

func newQueue(rate int) *queue {
	return &queue{rate: rate, wake: make(chan struct{}, 1)}
}

func (q *queue) submit(id int, samples []int16, rate int) error {
	if rate != q.rate {
		return fmt.Errorf("sample rate %d does not match device rate %d", rate, q.rate)
	}
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(id) >= 0 || slices.Contains(q.finished, id) {
		return fmt.Errorf("buffer %d is already queued", id)
	}
	q.pending = append(q.pending, &entry{id: id, pcm: pcm})
	return nil
}

func (q *queue) indexOf(id int) int {
	return slices.IndexFunc(q.pending, func(e *entry) bool { return e.id == id })
}

func (q *queue) start() {
	q.mu.Lock()
	q.running = len(q.pending) > 0
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *queue) processed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.finished)
}

func (q *queue) release(id int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := slices.Index(q.finished, id); i >= 0 {
		q.finished = slices.Delete(q.finished, i, i+1)
		return nil
	}
	if i := q.indexOf(id); i >= 0 && !q.running {
		q.pending = slices.Delete(q.pending, i, i+1)
		return nil
	}
	return fmt.Errorf("buffer %d is not released while it is playing", id)
}

// read copies queued PCM into p and returns the number of bytes written.
// Nothing is read while playback is stopped. Playback stops by itself once
// the last pending buffer is consumed.
func (q *queue) read(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return 0
	}
	n := 0
	for n < len(p) && len(q.pending) > 0 {
		head := q.pending[0]
		c := copy(p[n:], head.pcm[head.pos:])
		head.pos += c
		n += c
		if head.pos == len(head.pcm) {
			q.pending = q.pending[1:]
			q.finished = append(q.finished, head.id)
		}
	}
	if len(q.pending) == 0 {
		q.running = false
	}
	return n
}

// reset drops everything queued.
func (q *queue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.finished = nil
	q.running = false
}
