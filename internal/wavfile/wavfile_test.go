package wavfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-beep/internal/sound"
)

func writeFile(t *testing.T, events [][2]float64) (string, []int16) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w, err := Begin(f)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var want []int16
	for _, ev := range events {
		if err := w.WriteEvent(ev[0], ev[1]); err != nil {
			t.Fatalf("write event: %v", err)
		}
		want = append(want, sound.Render(ev[0], ev[1]).Samples()...)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if w.Samples() != len(want) {
		t.Fatalf("writer counted %d samples, want %d", w.Samples(), len(want))
	}
	return path, want
}

func TestRoundTrip(t *testing.T) {
	path, want := writeFile(t, [][2]float64{{440, 250}, {0, 50}, {880, 120.5}})

	h, got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if int(h.DataSize) != 2*len(want) {
		t.Fatalf("data size %d, want %d", h.DataSize, 2*len(want))
	}
	if int(h.ChunkSize) != HeaderSize+2*len(want)-8 {
		t.Fatalf("chunk size %d, want %d", h.ChunkSize, HeaderSize+2*len(want)-8)
	}
	if h.SampleRate != 44100 || h.ByteRate != 88200 || h.BlockAlign != 2 {
		t.Fatalf("unexpected format fields %+v", h)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEmptyFile(t *testing.T) {
	path, _ := writeFile(t, nil)
	h, samples, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if h.DataSize != 0 || len(samples) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", h.DataSize)
	}
}

func TestIndependentDecoderAgrees(t *testing.T) {
	path, want := writeFile(t, [][2]float64{{750, 60}, {0, 60}, {750, 180}})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("decoder rejected the file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 44100 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("decoder saw rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoder read %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != int(want[i]) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func encodeHeader(t *testing.T, h Header, payload []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, h); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	b.Write(payload)
	return b.Bytes()
}

func TestBrokenProducerSizeIsPatched(t *testing.T) {
	payload := make([]byte, 20)
	for i := range 10 {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(int16(i-5)))
	}
	h := newHeader(HeaderSize + 20)
	h.ChunkSize = brokenChunkSize
	h.DataSize = 0xFFFFFFF0
	data := encodeHeader(t, h, payload)

	got, samples, err := Decode(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ChunkSize != uint32(len(data)-8) || got.DataSize != 20 {
		t.Fatalf("size fields not patched: %+v", got)
	}
	if len(samples) != 10 || samples[0] != -5 || samples[9] != 4 {
		t.Fatalf("unexpected samples %v", samples)
	}
}

func TestOtherBadSizesAreNotPatched(t *testing.T) {
	h := newHeader(HeaderSize + 4)
	h.ChunkSize = brokenChunkSize + 1
	h.DataSize = 400
	data := encodeHeader(t, h, make([]byte, 4))

	_, _, err := Decode(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, sound.ErrInvalidFileFormat) {
		t.Fatalf("expected ErrInvalidFileFormat, got %v", err)
	}
}

func TestInvalidHeaders(t *testing.T) {
	cases := map[string]func(*Header){
		"label":    func(h *Header) { h.Label = [4]byte{'R', 'I', 'F', 'X'} },
		"wave":     func(h *Header) { h.Format = [4]byte{'A', 'V', 'I', ' '} },
		"fmt":      func(h *Header) { h.FmtMarker = [4]byte{'f', 'm', 't', '_'} },
		"data":     func(h *Header) { h.DataMarker = [4]byte{'l', 'i', 's', 't'} },
		"format":   func(h *Header) { h.AudioFormat = 3 },
		"channels": func(h *Header) { h.Channels = 2 },
		"bits":     func(h *Header) { h.BitsPerSample = 8 },
		"size":     func(h *Header) { h.DataSize = 100 },
	}
	for name, mutate := range cases {
		h := newHeader(HeaderSize + 8)
		mutate(&h)
		data := encodeHeader(t, h, make([]byte, 8))
		if _, _, err := Decode(bytes.NewReader(data), int64(len(data))); !errors.Is(err, sound.ErrInvalidFileFormat) {
			t.Fatalf("%s: expected ErrInvalidFileFormat, got %v", name, err)
		}
	}

	if _, _, err := Decode(bytes.NewReader(make([]byte, 10)), 10); !errors.Is(err, sound.ErrInvalidFileFormat) {
		t.Fatalf("short file: expected ErrInvalidFileFormat, got %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, sound.ErrFileIO) {
		t.Fatalf("expected ErrFileIO, got %v", err)
	}
}

type failingWriter struct{}

func (f *failingWriter) Write([]byte) (int, error)      { return 0, errors.New("disk full") }
func (f *failingWriter) Seek(int64, int) (int64, error) { return 0, nil }

func TestWriteFailureIsFileIO(t *testing.T) {
	if _, err := Begin(&failingWriter{}); !errors.Is(err, sound.ErrFileIO) {
		t.Fatalf("expected ErrFileIO, got %v", err)
	}
}
