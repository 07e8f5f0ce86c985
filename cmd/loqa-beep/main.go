package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-beep <command> [flags] [text]

commands:
  tone     play a tone, optionally repeated
  morse    send text (arguments or -i input lines) as Morse code; -table lists it
  music    play note notation (arguments or -i input lines)
  verify   check a WAV file written by loqa-beep; -repair out.wav rewrites it
  midi     convert note notation to a standard MIDI file
  version  print the version

common flags: -config file, -o out.wav, -i input (- for stdin), -device oto|headless|exec|keyer
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "tone":
		err = runTone(ctx, os.Args[2:])
	case "morse":
		err = runText(ctx, "morse", os.Args[2:])
	case "music":
		err = runText(ctx, "music", os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:], os.Stdout)
	case "midi":
		err = runMIDI(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "loqa-beep:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates bad input from failures of the environment.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, sound.ErrParse), errors.Is(err, sound.ErrRange):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

var errUsage = errors.New("usage error")

func closeQuietly(c io.Closer) { _ = c.Close() }
