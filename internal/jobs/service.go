// Package jobs serves beep requests arriving on the bus: device playback on
// the local engine or WAV rendering streamed back as chunks.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-beep/internal/bus"
	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/engine"
	"github.com/loqalabs/loqa-beep/internal/eventstore"
	"github.com/loqalabs/loqa-beep/internal/morse"
	"github.com/loqalabs/loqa-beep/internal/music"
	"github.com/loqalabs/loqa-beep/internal/protocol"
	"github.com/loqalabs/loqa-beep/internal/sink"
	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Player plays requests on a local sink. *engine.Engine implements it.
type Player interface {
	PlayTone(ctx context.Context, freq, ms, gap float64, repeats int) error
	Play(ctx context.Context, mode engine.Mode, text string) error
}

// Options wires a Service.
type Options struct {
	Config config.JobsConfig
	Tone   config.ToneConfig
	Bus    *bus.Client
	Store  *eventstore.Store
	// Player handles output=device requests; nil rejects them.
	Player Player
	Morse  *morse.Encoder
	Music  *music.Encoder
	Logger *slog.Logger
}

type Service struct {
	opts   Options
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	requests metric.Int64Counter
	failures metric.Int64Counter
}

func NewService(parent context.Context, opts Options) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		logger: opts.Logger.With(slog.String("component", "beep-jobs")),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-beep/jobs")
	var err error
	if s.requests, err = meter.Int64Counter("loqa.beep.jobs.requests", metric.WithDescription("Beep requests received")); err != nil {
		s.logger.Warn("failed to create request counter", slogError(err))
	}
	if s.failures, err = meter.Int64Counter("loqa.beep.jobs.failures", metric.WithDescription("Beep requests that failed")); err != nil {
		s.logger.Warn("failed to create failure counter", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if !s.opts.Config.Enabled {
		return nil
	}
	sub, err := s.opts.Bus.Conn().Subscribe(protocol.SubjectBeepRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for beep requests", slog.String("subject", protocol.SubjectBeepRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.opts.Config.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.BeepRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode beep request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.opts.Config.TimeoutMS)*time.Millisecond)
		defer cancel()
		s.Handle(ctx, req)
	}()
}

// Handle runs one request to completion, publishes its status and records
// it in the event store.
func (s *Service) Handle(ctx context.Context, req protocol.BeepRequest) protocol.BeepStatus {
	if req.Output == "" {
		req.Output = protocol.OutputDevice
	}
	attrs := metric.WithAttributes(attribute.String("mode", req.Mode), attribute.String("output", req.Output))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}

	started := time.Now()
	samples, err := s.run(ctx, req)
	status := protocol.BeepStatus{
		SessionID:  req.SessionID,
		Completed:  err == nil,
		Samples:    samples,
		DurationMS: float64(time.Since(started).Microseconds()) / 1000,
		Timestamp:  time.Now().UTC(),
	}
	job := eventstore.Job{
		SessionID:  req.SessionID,
		Mode:       req.Mode,
		Text:       req.Text,
		Output:     req.Output,
		Status:     eventstore.StatusCompleted,
		Samples:    samples,
		DurationMS: status.DurationMS,
	}
	if err != nil {
		status.Error = err.Error()
		job.Status, job.Error = eventstore.StatusFailed, err.Error()
		if s.failures != nil {
			s.failures.Add(ctx, 1, attrs)
		}
		s.logger.Warn("beep request failed", slog.String("session_id", req.SessionID), slogError(err))
	} else {
		s.logger.Info("beep request completed",
			slog.String("session_id", req.SessionID),
			slog.String("mode", req.Mode),
			slog.String("output", req.Output),
			slog.Int("samples", samples))
	}

	if err := s.opts.Bus.PublishJSON(protocol.SubjectBeepDone, status); err != nil {
		s.logger.Warn("failed to publish beep status", slogError(err))
	}
	if s.opts.Store != nil {
		// the request context may already be spent; history is still wanted
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := s.opts.Store.AppendJob(storeCtx, job); err != nil {
			s.logger.Warn("failed to record job", slogError(err))
		}
	}
	return status
}

func (s *Service) run(ctx context.Context, req protocol.BeepRequest) (int, error) {
	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		return 0, err
	}
	switch req.Output {
	case protocol.OutputDevice:
		if s.opts.Player == nil {
			return 0, fmt.Errorf("%w: device output is not available on this node", sound.ErrDevice)
		}
		return 0, s.play(ctx, s.opts.Player, mode, req)
	case protocol.OutputWAV:
		return s.render(ctx, mode, req)
	default:
		return 0, fmt.Errorf("%w: unknown output %q", sound.ErrParse, req.Output)
	}
}

func (s *Service) play(ctx context.Context, p Player, mode engine.Mode, req protocol.BeepRequest) error {
	if mode != engine.ModeTone {
		return p.Play(ctx, mode, req.Text)
	}
	freq, ms, gap, repeats := req.Frequency, req.DurationMS, req.GapMS, req.Repeats
	if freq == 0 {
		freq = s.opts.Tone.Frequency
	}
	if ms == 0 {
		ms = s.opts.Tone.DurationMS
	}
	if gap == 0 {
		gap = s.opts.Tone.GapMS
	}
	if repeats == 0 {
		repeats = max(s.opts.Tone.Repeats, 1)
	}
	return p.PlayTone(ctx, freq, ms, gap, repeats)
}

// render writes the request to a temporary WAV file and streams it back in
// chunks.
func (s *Service) render(ctx context.Context, mode engine.Mode, req protocol.BeepRequest) (int, error) {
	f, err := os.CreateTemp(s.opts.Config.TempDir, "loqa-beep-*.wav")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	path := f.Name()
	defer os.Remove(path)

	fileSink, err := sink.NewFile(f)
	if err != nil {
		f.Close()
		return 0, err
	}
	eng, err := engine.New(fileSink, engine.Options{Morse: s.opts.Morse, Music: s.opts.Music, Logger: s.logger})
	if err != nil {
		fileSink.Close()
		return 0, err
	}
	playErr := s.play(ctx, eng, mode, req)
	if err := eng.Close(); err != nil && playErr == nil {
		playErr = err
	}
	if playErr != nil {
		return 0, playErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	if err := s.publishChunks(req.SessionID, data); err != nil {
		return 0, err
	}
	return fileSink.Samples(), nil
}

func (s *Service) publishChunks(sessionID string, data []byte) error {
	size := s.opts.Config.ChunkBytes
	sequence := 0
	for offset := 0; ; offset += size {
		end := min(offset+size, len(data))
		chunk := protocol.AudioChunk{
			SessionID:  sessionID,
			Sequence:   sequence,
			SampleRate: sound.SampleRate,
			Channels:   1,
			WAV:        data[offset:end],
			Final:      end == len(data),
		}
		if err := s.opts.Bus.PublishJSON(protocol.SubjectBeepAudio, chunk); err != nil {
			return fmt.Errorf("publish audio chunk %d: %w", sequence, err)
		}
		if chunk.Final {
			return nil
		}
		sequence++
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
