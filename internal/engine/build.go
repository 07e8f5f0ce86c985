package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/device"
	"github.com/loqalabs/loqa-beep/internal/morse"
	"github.com/loqalabs/loqa-beep/internal/music"
	"github.com/loqalabs/loqa-beep/internal/playback"
	"github.com/loqalabs/loqa-beep/internal/sink"
	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Encoders builds the Morse and music encoders from configuration.
func Encoders(cfg config.Config) (*morse.Encoder, *music.Encoder, error) {
	standard, err := morse.ParseStandard(cfg.Morse.Standard)
	if err != nil {
		return nil, nil, err
	}
	timing := morse.Timing{WPM: cfg.Morse.WPM, Standard: standard, WordSpace: cfg.Morse.WordSpace}.
		WithCharacterWPM(cfg.Morse.CharWPM)
	m, err := morse.NewEncoder(cfg.Morse.Frequency, timing)
	if err != nil {
		return nil, nil, err
	}
	mu, err := music.NewEncoder(cfg.Music.BPM, cfg.Music.GapMS)
	if err != nil {
		return nil, nil, err
	}
	return m, mu, nil
}

// OpenSink opens the configured output. A non-empty wavPath selects file
// output regardless of the configured device.
func OpenSink(out config.OutputConfig, wavPath string, log *slog.Logger) (sink.Sink, error) {
	if wavPath != "" {
		return sink.CreateFile(wavPath)
	}
	if out.Device == "keyer" {
		return sink.OpenKeyer(out.SerialPort, out.SerialBaud, sink.KeyLine(out.KeyLine))
	}

	dev, err := device.Open(out.Device, out.Command, sound.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sound.ErrDevice, err)
	}
	sched, err := playback.New(dev,
		playback.WithBuffers(out.Buffers),
		playback.WithBufferSamples(out.BufferSamples),
		playback.WithPollInterval(time.Duration(out.PollIntervalMS)*time.Millisecond),
		playback.WithLogger(log),
	)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return sink.NewDevice(sched, dev), nil
}

// SinkAttributes describes the output for capability announcements.
func SinkAttributes(out config.OutputConfig) map[string]string {
	return map[string]string{
		"sink":        out.Device,
		"sample_rate": strconv.Itoa(sound.SampleRate),
		"buffers":     strconv.Itoa(out.Buffers),
	}
}

// FromConfig builds an engine with encoders and sink taken from cfg.
func FromConfig(cfg config.Config, wavPath string, log *slog.Logger) (*Engine, error) {
	m, mu, err := Encoders(cfg)
	if err != nil {
		return nil, err
	}
	s, err := OpenSink(cfg.Output, wavPath, log)
	if err != nil {
		return nil, err
	}
	return New(s, Options{Morse: m, Music: mu, Logger: log})
}
