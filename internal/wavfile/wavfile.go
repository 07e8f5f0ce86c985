// Package wavfile writes and reads the canonical 44-byte-header PCM WAV
// container used for file output and verification.
package wavfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

const (
	// HeaderSize is the fixed size of the container header in bytes.
	HeaderSize = 44

	channels      = 1
	bitsPerSample = 16
	chunkSamples  = 4096

	// brokenChunkSize is a known bad fileSizeMinus8 written by an older
	// producer. Files carrying it get their size fields recomputed.
	brokenChunkSize = 2147483684
)

// Header mirrors the on-disk layout, little-endian.
type Header struct {
	Label         [4]byte
	ChunkSize     uint32
	Format        [4]byte
	FmtMarker     [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataMarker    [4]byte
	DataSize      uint32
}

func newHeader(offset int64) Header {
	return Header{
		Label:         [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(offset - 8),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		FmtMarker:     [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      channels,
		SampleRate:    sound.SampleRate,
		ByteRate:      sound.SampleRate * bitsPerSample * channels / 8,
		BlockAlign:    bitsPerSample * channels / 8,
		BitsPerSample: bitsPerSample,
		DataMarker:    [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(offset - HeaderSize),
	}
}

// Samples reports how many samples the header declares.
func (h Header) Samples() int { return int(h.DataSize) / 2 }

// Writer appends PCM after a placeholder header and patches the header on
// Finish. Writes go straight to the underlying file without backpressure.
type Writer struct {
	ws      io.WriteSeeker
	scratch []int16
	raw     []byte
	samples int
}

// Begin writes a zero-filled header placeholder to ws.
func Begin(ws io.WriteSeeker) (*Writer, error) {
	if _, err := ws.Write(make([]byte, HeaderSize)); err != nil {
		return nil, fmt.Errorf("%w: write header placeholder: %w", sound.ErrFileIO, err)
	}
	return &Writer{
		ws:      ws,
		scratch: make([]int16, chunkSamples),
		raw:     make([]byte, 2*chunkSamples),
	}, nil
}

// Samples reports how many samples were written so far.
func (w *Writer) Samples() int { return w.samples }

// WriteEvent renders a tone (freq 0 for silence) of ms milliseconds and
// appends it.
func (w *Writer) WriteEvent(freq, ms float64) error {
	run := sound.Render(freq, ms)
	for start := 0; start < run.Len(); {
		n := run.Fill(w.scratch, start)
		if err := w.WriteSamples(w.scratch[:n]); err != nil {
			return err
		}
		start += n
	}
	return nil
}

// WriteSamples appends raw samples.
func (w *Writer) WriteSamples(samples []int16) error {
	for len(samples) > 0 {
		n := min(len(samples), chunkSamples)
		for i, s := range samples[:n] {
			binary.LittleEndian.PutUint16(w.raw[2*i:], uint16(s))
		}
		if _, err := w.ws.Write(w.raw[:2*n]); err != nil {
			return fmt.Errorf("%w: write samples: %w", sound.ErrFileIO, err)
		}
		w.samples += n
		samples = samples[n:]
	}
	return nil
}

// Finish fills in the header from the current file offset and seeks back to
// the end. The caller still owns and closes the file.
func (w *Writer) Finish() error {
	offset, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("%w: locate end of data: %w", sound.ErrFileIO, err)
	}
	if offset < HeaderSize || offset > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d cannot be described by the header", sound.ErrFileIO, offset)
	}
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to header: %w", sound.ErrFileIO, err)
	}
	if err := binary.Write(w.ws, binary.LittleEndian, newHeader(offset)); err != nil {
		return fmt.Errorf("%w: write header: %w", sound.ErrFileIO, err)
	}
	if _, err := w.ws.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to end: %w", sound.ErrFileIO, err)
	}
	return nil
}

// Read loads and validates the file at path.
func Read(path string) (Header, []int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %w", sound.ErrFileIO, err)
	}
	return Decode(f, info.Size())
}

// Decode validates a container of size bytes and returns its header and
// samples.
func Decode(r io.ReaderAt, size int64) (Header, []int16, error) {
	var h Header
	if size < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes is shorter than the header", sound.ErrInvalidFileFormat, size)
	}
	if err := binary.Read(io.NewSectionReader(r, 0, HeaderSize), binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("%w: read header: %w", sound.ErrFileIO, err)
	}

	if h.ChunkSize == brokenChunkSize {
		h.ChunkSize = uint32(size - 8)
		h.DataSize = uint32(size - HeaderSize)
	}
	if err := h.validate(size); err != nil {
		return h, nil, err
	}

	raw := make([]byte, int(h.DataSize)&^1)
	if _, err := r.ReadAt(raw, HeaderSize); err != nil && err != io.EOF {
		return h, nil, fmt.Errorf("%w: read samples: %w", sound.ErrFileIO, err)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return h, samples, nil
}

func (h Header) validate(size int64) error {
	switch {
	case !bytes.Equal(h.Label[:], []byte("RIFF")):
		return fmt.Errorf("%w: missing RIFF label", sound.ErrInvalidFileFormat)
	case !bytes.Equal(h.Format[:], []byte("WAVE")):
		return fmt.Errorf("%w: missing WAVE tag", sound.ErrInvalidFileFormat)
	case !bytes.Equal(h.FmtMarker[:], []byte("fmt ")):
		return fmt.Errorf("%w: missing fmt marker", sound.ErrInvalidFileFormat)
	case !bytes.Equal(h.DataMarker[:], []byte("data")):
		return fmt.Errorf("%w: missing data marker", sound.ErrInvalidFileFormat)
	case h.AudioFormat != 1:
		return fmt.Errorf("%w: format tag %d is not PCM", sound.ErrInvalidFileFormat, h.AudioFormat)
	case h.Channels != channels:
		return fmt.Errorf("%w: %d channels, want mono", sound.ErrInvalidFileFormat, h.Channels)
	case h.BitsPerSample != bitsPerSample:
		return fmt.Errorf("%w: %d bits per sample, want 16", sound.ErrInvalidFileFormat, h.BitsPerSample)
	case int64(h.DataSize) > size-HeaderSize:
		return fmt.Errorf("%w: data size %d exceeds the %d bytes present", sound.ErrInvalidFileFormat, h.DataSize, size-HeaderSize)
	}
	return nil
}
