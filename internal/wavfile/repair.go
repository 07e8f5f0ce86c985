package wavfile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

// Export writes samples as a fresh mono 16-bit container.
func Export(ws io.WriteSeeker, samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sound.SampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}

	enc := wav.NewEncoder(ws, sound.SampleRate, bitsPerSample, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("%w: write samples: %w", sound.ErrFileIO, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: close encoder: %w", sound.ErrFileIO, err)
	}
	return nil
}

// Repair reads src, patching a sentinel size if present, and rewrites it
// to dst with correct sizes. It returns the header as read from src.
func Repair(src, dst string) (Header, error) {
	h, samples, err := Read(src)
	if err != nil {
		return h, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return h, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	if err := Export(f, samples); err != nil {
		f.Close()
		return h, err
	}
	if err := f.Close(); err != nil {
		return h, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	return h, nil
}
