package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/engine"
	"github.com/loqalabs/loqa-beep/internal/morse"
	"github.com/loqalabs/loqa-beep/internal/music"
	"github.com/loqalabs/loqa-beep/internal/wavfile"
)

// common holds the flags every playing command accepts.
type common struct {
	configPath string
	output     string
	input      string
	device     string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&c.output, "o", "", "Write a WAV file instead of playing")
	fs.StringVar(&c.input, "i", "", "Read input lines from file (- for stdin)")
	fs.StringVar(&c.device, "device", "", "Output device: oto, headless, exec or keyer (exec counts audio as played once the command accepts it)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// load reads configuration (defaults, file, LOQA_* environment) and applies the flags that were set on the
// command line.
func (c *common) load(fs *flag.FlagSet, apply func(*config.Config, string)) (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	if c.device != "" {
		cfg.Output.Device = c.device
	}
	if c.logLevel != "" {
		cfg.Telemetry.LogLevel = c.logLevel
	}
	if apply != nil {
		fs.Visit(func(f *flag.Flag) { apply(&cfg, f.Name) })
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runTone(ctx context.Context, args []string) error {
	var (
		c             common
		freq, ms, gap float64
		repeats       int
	)
	fs := flag.NewFlagSet("tone", flag.ContinueOnError)
	c.register(fs)
	fs.Float64Var(&freq, "f", 0, "Frequency in Hz")
	fs.Float64Var(&ms, "d", 0, "Duration in milliseconds")
	fs.Float64Var(&gap, "g", 0, "Silence after each tone in milliseconds")
	fs.IntVar(&repeats, "r", 0, "Number of tones")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	cfg, err := c.load(fs, func(cfg *config.Config, name string) {
		switch name {
		case "f":
			cfg.Tone.Frequency = freq
		case "d":
			cfg.Tone.DurationMS = ms
		case "g":
			cfg.Tone.GapMS = gap
		case "r":
			cfg.Tone.Repeats = repeats
		}
	})
	if err != nil {
		return err
	}
	log := newLogger(cfg.Telemetry.LogLevel)

	eng, err := engine.FromConfig(cfg, c.output, log)
	if err != nil {
		return err
	}
	defer closeQuietly(eng)
	if err := eng.PlayTone(ctx, cfg.Tone.Frequency, cfg.Tone.DurationMS, cfg.Tone.GapMS, cfg.Tone.Repeats); err != nil {
		return err
	}
	return eng.Close()
}

func runText(ctx context.Context, name string, args []string) error {
	var (
		c         common
		freq      float64
		wpm       float64
		charWPM   float64
		standard  string
		wordSpace float64
		table     bool
		bpm       float64
		gap       float64
	)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c.register(fs)
	mode := engine.ModeMusic
	if name == "morse" {
		mode = engine.ModeMorse
		fs.Float64Var(&freq, "f", 0, "Tone frequency in Hz")
		fs.Float64Var(&wpm, "wpm", 0, "Words per minute")
		fs.Float64Var(&charWPM, "char-wpm", 0, "Character speed for Farnsworth timing")
		fs.StringVar(&standard, "standard", "", "Reference word: paris or codex")
		fs.Float64Var(&wordSpace, "word-space", 0, "Extra word spacing factor (>= 1)")
		fs.BoolVar(&table, "table", false, "Print the Morse table and exit")
	} else {
		fs.Float64Var(&bpm, "bpm", 0, "Tempo in quarter notes per minute")
		fs.Float64Var(&gap, "g", 0, "Silence at the end of every note in milliseconds")
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if table {
		printTable(os.Stdout)
		return nil
	}

	cfg, err := c.load(fs, func(cfg *config.Config, flagName string) {
		switch flagName {
		case "f":
			cfg.Morse.Frequency = freq
		case "wpm":
			cfg.Morse.WPM = wpm
		case "char-wpm":
			cfg.Morse.CharWPM = charWPM
		case "standard":
			cfg.Morse.Standard = standard
		case "word-space":
			cfg.Morse.WordSpace = wordSpace
		case "bpm":
			cfg.Music.BPM = bpm
		case "g":
			cfg.Music.GapMS = gap
		}
	})
	if err != nil {
		return err
	}
	log := newLogger(cfg.Telemetry.LogLevel)

	text := strings.Join(fs.Args(), " ")
	if text == "" && c.input == "" {
		c.input = "-"
	}

	eng, err := engine.FromConfig(cfg, c.output, log)
	if err != nil {
		return err
	}
	defer closeQuietly(eng)

	if text != "" {
		if err := eng.Play(ctx, mode, text); err != nil {
			return err
		}
	}
	if c.input != "" {
		in, echo, err := openInput(c.input)
		if err != nil {
			return err
		}
		defer closeQuietly(in)
		if err := eng.StreamLines(ctx, in, mode, echo); err != nil {
			return err
		}
	}
	return eng.Close()
}

// openInput opens the line source. Lines are echoed to stdout as they play
// unless they are being typed at a terminal, where they are already visible.
func openInput(name string) (io.ReadCloser, io.Writer, error) {
	if name == "-" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return io.NopCloser(os.Stdin), nil, nil
		}
		return io.NopCloser(os.Stdin), os.Stdout, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, os.Stdout, nil
}

func runVerify(args []string, out io.Writer) error {
	var path, repair string
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.StringVar(&path, "i", "", "WAV file to check")
	fs.StringVar(&repair, "repair", "", "rewrite the file with corrected sizes to this path")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		return fmt.Errorf("%w: verify needs a file", errUsage)
	}

	h, samples, err := wavfile.Read(path)
	if err != nil {
		return err
	}
	var peak int
	for _, s := range samples {
		peak = max(peak, abs(int(s)))
	}
	seconds := float64(len(samples)) / float64(h.SampleRate)
	fmt.Fprintf(out, "%s: %d Hz, %d channel, %d bit, %d samples (%.3fs), peak %d\n",
		path, h.SampleRate, h.Channels, h.BitsPerSample, len(samples), seconds, peak)
	if repair != "" {
		if _, err := wavfile.Repair(path, repair); err != nil {
			return err
		}
		fmt.Fprintf(out, "rewrote %s\n", repair)
	}
	return nil
}

func printTable(w io.Writer) {
	for _, r := range morse.Characters() {
		code, _ := morse.Lookup(r)
		if name, ok := morse.Prosigns[r]; ok {
			fmt.Fprintf(w, "%c\t%s\t<%s>\n", r, code, name)
			continue
		}
		fmt.Fprintf(w, "%c\t%s\n", r, code)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func runMIDI(args []string, out io.Writer) error {
	var (
		c     common
		bpm   float64
		title string
		list  bool
	)
	fs := flag.NewFlagSet("midi", flag.ContinueOnError)
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&c.output, "o", "out.mid", "MIDI file to write")
	fs.StringVar(&c.input, "i", "", "Read notation from file (- for stdin)")
	fs.Float64Var(&bpm, "bpm", 0, "Tempo in quarter notes per minute")
	fs.StringVar(&title, "title", "loqa-beep", "Track name")
	fs.BoolVar(&list, "list", false, "Print each note as it is written")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	cfg, err := c.load(fs, func(cfg *config.Config, name string) {
		if name == "bpm" {
			cfg.Music.BPM = bpm
		}
	})
	if err != nil {
		return err
	}

	text := strings.Join(fs.Args(), " ")
	if c.input != "" {
		in, _, err := openInput(c.input)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(in)
		in.Close()
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text + " " + string(data))
	}
	if _, err := music.NewEncoder(cfg.Music.BPM, 0); err != nil {
		return err
	}
	notes, err := music.Parse(text)
	if err != nil {
		return err
	}

	if list {
		for _, n := range notes {
			fmt.Fprintln(out, n)
		}
	}

	f, err := os.Create(c.output)
	if err != nil {
		return err
	}
	if err := music.WriteSMF(f, notes, cfg.Music.BPM, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
