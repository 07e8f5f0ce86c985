package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

const (
	DefaultBuffers       = 3
	DefaultBufferSamples = sound.SampleRate

	// maxPoolSamples bounds the pool allocation (128 MiB of samples).
	maxPoolSamples = 64 << 20
)

// State is the life-cycle position of a pool buffer.
type State int

const (
	Free State = iota
	Filling
	Queued
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Filling:
		return "filling"
	case Queued:
		return "queued"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type buffer struct {
	id     int
	state  State
	data   []int16
	offset int
}

// Stats counts scheduler activity since construction.
type Stats struct {
	Submitted     int64
	Reclaimed     int64
	StaleReleased int64
	Starts        int64
	Polls         int64
	Samples       int64
}

// Scheduler packs rendered samples into a fixed pool of buffers and hands
// full buffers to a Device. When every buffer is queued it polls the device
// until the oldest one has played. It is not safe for concurrent use.
type Scheduler struct {
	dev     Device
	pool    []buffer
	current int
	poll    time.Duration
	log     *slog.Logger
	meter   metric.Meter
	stats   Stats

	submitted metric.Int64Counter
	reclaimed metric.Int64Counter
	polls     metric.Int64Counter
	samples   metric.Int64Counter
}

type options struct {
	buffers int
	samples int
	poll    time.Duration
	log     *slog.Logger
	meter   metric.Meter
}

// Option configures a Scheduler.
type Option func(*options)

// WithBuffers sets the pool size.
func WithBuffers(n int) Option { return func(o *options) { o.buffers = n } }

// WithBufferSamples sets the capacity of each buffer in samples.
func WithBufferSamples(n int) Option { return func(o *options) { o.samples = n } }

// WithPollInterval sets the pause between device polls. Zero spins,
// yielding the processor between polls.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.poll = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMeter sets the OpenTelemetry meter used for scheduler counters.
func WithMeter(m metric.Meter) Option { return func(o *options) { o.meter = m } }

// New allocates the buffer pool for dev.
func New(dev Device, opts ...Option) (*Scheduler, error) {
	o := options{
		buffers: DefaultBuffers,
		samples: DefaultBufferSamples,
		poll:    time.Millisecond,
		log:     slog.Default(),
		meter:   otel.Meter("github.com/loqalabs/loqa-beep/playback"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if dev == nil {
		return nil, errors.New("playback device is nil")
	}
	if o.buffers <= 0 || o.samples <= 0 {
		return nil, fmt.Errorf("%w: pool of %d buffers x %d samples", sound.ErrRange, o.buffers, o.samples)
	}
	if int64(o.buffers)*int64(o.samples) > maxPoolSamples {
		return nil, fmt.Errorf("%w: pool of %d buffers x %d samples exceeds %d samples", sound.ErrOutOfMemory, o.buffers, o.samples, maxPoolSamples)
	}

	s := &Scheduler{
		dev:   dev,
		pool:  make([]buffer, o.buffers),
		poll:  o.poll,
		log:   o.log.With(slog.String("component", "scheduler")),
		meter: o.meter,
	}
	for i := range s.pool {
		s.pool[i] = buffer{id: i, data: make([]int16, o.samples)}
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Scheduler) initMetrics() error {
	var err error
	if s.submitted, err = s.meter.Int64Counter("loqa.beep.buffers.submitted", metric.WithDescription("Buffers handed to the playback device")); err != nil {
		return err
	}
	if s.reclaimed, err = s.meter.Int64Counter("loqa.beep.buffers.reclaimed", metric.WithDescription("Buffers reclaimed after the device played them")); err != nil {
		return err
	}
	if s.polls, err = s.meter.Int64Counter("loqa.beep.poll.iterations", metric.WithDescription("Device polls while waiting for progress")); err != nil {
		return err
	}
	if s.samples, err = s.meter.Int64Counter("loqa.beep.samples.rendered", metric.WithDescription("Samples rendered into the buffer pool")); err != nil {
		return err
	}
	return nil
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// States returns the state of each pool buffer in id order.
func (s *Scheduler) States() []State {
	out := make([]State, len(s.pool))
	for i, b := range s.pool {
		out[i] = b.state
	}
	return out
}

// Push renders a tone (or silence, for freq 0) of ms milliseconds into the
// pool, submitting buffers as they fill. It blocks while the pool is
// exhausted.
func (s *Scheduler) Push(ctx context.Context, freq, ms float64) error {
	run := sound.Render(freq, ms)
	for idx := 0; idx < run.Len(); {
		b := &s.pool[s.current]
		if b.state == Queued {
			// every buffer is queued; this one is the oldest
			if err := s.reclaim(ctx, b); err != nil {
				return err
			}
		}
		if b.state == Free {
			b.state = Filling
			b.offset = 0
		}

		n := run.Fill(b.data[b.offset:], idx)
		idx += n
		b.offset += n
		s.stats.Samples += int64(n)
		s.count(ctx, s.samples, int64(n))

		if b.offset == len(b.data) {
			if err := s.submit(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush submits the partially filled active buffer, if any.
func (s *Scheduler) Flush(ctx context.Context) error {
	b := &s.pool[s.current]
	if b.state != Filling || b.offset == 0 {
		return nil
	}
	return s.submit(ctx, b)
}

// WaitForDrain blocks until the device reports that nothing is playing.
func (s *Scheduler) WaitForDrain(ctx context.Context) error {
	for {
		playing, err := s.dev.Playing()
		if err != nil {
			return deviceError("query playing state", err)
		}
		if !playing {
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

func (s *Scheduler) reclaim(ctx context.Context, b *buffer) error {
	for {
		processed, err := s.dev.Processed()
		if err != nil {
			return deviceError("query processed buffers", err)
		}
		if processed > 0 {
			break
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
	if err := s.dev.Release(b.id); err != nil {
		return deviceError(fmt.Sprintf("release buffer %d", b.id), err)
	}
	b.state = Free
	b.offset = 0
	s.stats.Reclaimed++
	s.count(ctx, s.reclaimed, 1)
	s.log.Debug("buffer reclaimed", slog.Int("buffer", b.id))
	return nil
}

func (s *Scheduler) submit(ctx context.Context, b *buffer) error {
	if err := s.dev.Submit(b.id, b.data[:b.offset], sound.SampleRate); err != nil {
		// stays Filling; the next Push or Flush retries it
		return deviceError(fmt.Sprintf("submit buffer %d", b.id), err)
	}
	b.state = Queued
	s.current = (s.current + 1) % len(s.pool)
	s.stats.Submitted++
	s.count(ctx, s.submitted, 1)
	s.log.Debug("buffer queued", slog.Int("buffer", b.id), slog.Int("samples", b.offset))

	playing, err := s.dev.Playing()
	if err != nil {
		return deviceError("query playing state", err)
	}
	if playing {
		return nil
	}

	// Either playback never started or it drained and stopped. Anything else
	// still queued has already played.
	for k := 1; k < len(s.pool); k++ {
		o := &s.pool[(b.id+k)%len(s.pool)]
		if o.state != Queued {
			continue
		}
		if err := s.dev.Release(o.id); err != nil {
			return deviceError(fmt.Sprintf("release stale buffer %d", o.id), err)
		}
		o.state = Free
		o.offset = 0
		s.stats.StaleReleased++
		s.log.Debug("stale buffer released", slog.Int("buffer", o.id))
	}
	if err := s.dev.Start(); err != nil {
		return deviceError("start playback", err)
	}
	s.stats.Starts++
	return nil
}

func (s *Scheduler) wait(ctx context.Context) error {
	s.stats.Polls++
	s.count(ctx, s.polls, 1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.poll <= 0 {
		runtime.Gosched()
		return nil
	}
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) count(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil && n > 0 {
		c.Add(ctx, n)
	}
}

func deviceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", sound.ErrDevice, op, err)
}
