// Package engine turns tone, Morse and music requests into events and plays
// them on a single sink.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-beep/internal/morse"
	"github.com/loqalabs/loqa-beep/internal/music"
	"github.com/loqalabs/loqa-beep/internal/playback"
	"github.com/loqalabs/loqa-beep/internal/sink"
	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Mode selects how request text is interpreted.
type Mode string

const (
	ModeTone  Mode = "tone"
	ModeMorse Mode = "morse"
	ModeMusic Mode = "music"
)

// ParseMode accepts the mode names used on the command line and the bus.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case ModeTone, ModeMorse, ModeMusic:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", sound.ErrParse, name)
	}
}

// Options configures an engine.
type Options struct {
	Morse  *morse.Encoder
	Music  *music.Encoder
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Engine owns one sink. Calls are serialised; it is built once and closed
// once.
type Engine struct {
	mu     sync.Mutex
	sink   sink.Sink
	morse  *morse.Encoder
	music  *music.Encoder
	log    *slog.Logger
	tracer trace.Tracer
	closed bool
}

// New returns an engine writing to s.
func New(s sink.Sink, opts Options) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine requires a sink")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/loqalabs/loqa-beep/engine")
	}
	return &Engine{
		sink:   s,
		morse:  opts.Morse,
		music:  opts.Music,
		log:    opts.Logger.With(slog.String("component", "engine")),
		tracer: opts.Tracer,
	}, nil
}

// PlayTone plays freq for ms milliseconds repeats times, with gap
// milliseconds of silence after each.
func (e *Engine) PlayTone(ctx context.Context, freq, ms, gap float64, repeats int) error {
	if err := sound.CheckFrequency(freq); err != nil {
		return err
	}
	if ms < 0 || gap < 0 || repeats < 0 {
		return fmt.Errorf("%w: duration, gap and repeats must not be negative", sound.ErrRange)
	}
	return e.play(ctx, ModeTone, fmt.Sprintf("%gHz", freq), func(yield func(sound.Event, error) bool) {
		for ev := range sound.Repeat(freq, ms, gap, repeats) {
			if !yield(ev, nil) {
				return
			}
		}
	})
}

// PlayMorse sends text as Morse code.
func (e *Engine) PlayMorse(ctx context.Context, text string) error {
	if e.morse == nil {
		return errors.New("morse encoder not configured")
	}
	return e.play(ctx, ModeMorse, text, func(yield func(sound.Event, error) bool) {
		for ev := range e.morse.Encode(text) {
			if !yield(ev, nil) {
				return
			}
		}
	})
}

// PlayMusic plays a line of note notation. Notes before a malformed token
// are played; the malformed token ends the line with ErrParse.
func (e *Engine) PlayMusic(ctx context.Context, text string) error {
	if e.music == nil {
		return errors.New("music encoder not configured")
	}
	return e.play(ctx, ModeMusic, text, e.music.Encode(text))
}

// Play dispatches text by mode. Tone mode takes the frequency and duration
// from the configured defaults and ignores text.
func (e *Engine) Play(ctx context.Context, mode Mode, text string) error {
	switch mode {
	case ModeMorse:
		return e.PlayMorse(ctx, text)
	case ModeMusic:
		return e.PlayMusic(ctx, text)
	default:
		return fmt.Errorf("%w: mode %q needs explicit tone parameters", sound.ErrParse, mode)
	}
}

func (e *Engine) play(ctx context.Context, mode Mode, text string, events iter.Seq2[sound.Event, error]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}

	ctx, span := e.tracer.Start(ctx, "engine.play", trace.WithAttributes(
		attribute.String("beep.mode", string(mode)),
		attribute.Int("beep.text_length", len(text)),
	))
	defer span.End()

	var played int
	var total float64
	err := func() error {
		for ev, err := range events {
			if err != nil {
				return err
			}
			freq := ev.Frequency
			if ev.Silence {
				freq = 0
			}
			if err := e.sink.Tone(ctx, freq, ev.Duration); err != nil {
				return err
			}
			played++
			total += ev.Duration
		}
		if err := e.sink.Flush(ctx); err != nil {
			return err
		}
		return e.sink.Drain(ctx)
	}()

	span.SetAttributes(attribute.Int("beep.events", played), attribute.Float64("beep.duration_ms", total))
	if err != nil {
		// whatever was queued before the failure still plays out
		if ferr := e.sink.Flush(ctx); ferr == nil {
			_ = e.sink.Drain(ctx)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.log.Debug("played", slog.String("mode", string(mode)), slog.Int("events", played), slog.Float64("duration_ms", total))
	return nil
}

// StreamLines plays r line by line in mode. Each line is flushed and drained
// before the next is read; when echo is not nil the line is written to it
// once it has played. Lines the encoder rejects (malformed tokens or values
// out of range) are logged and skipped.
func (e *Engine) StreamLines(ctx context.Context, r io.Reader, mode Mode, echo io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if err := e.Play(ctx, mode, line); err != nil {
			if errors.Is(err, sound.ErrParse) || errors.Is(err, sound.ErrRange) {
				e.log.Warn("skipping line", slog.String("line", line), slog.String("error", err.Error()))
				continue
			}
			return err
		}
		if echo != nil {
			if _, err := fmt.Fprintln(echo, line); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// Close releases the sink. Later calls are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.sink.Close()
	if st, ok := e.sink.(interface{ Stats() playback.Stats }); ok {
		stats := st.Stats()
		e.log.Debug("sink closed",
			slog.Int64("submitted", stats.Submitted),
			slog.Int64("reclaimed", stats.Reclaimed),
			slog.Int64("stale_released", stats.StaleReleased),
			slog.Int64("starts", stats.Starts),
			slog.Int64("polls", stats.Polls),
			slog.Int64("samples", stats.Samples),
		)
	}
	return err
}
