package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-beep/internal/bus"
	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/engine"
	"github.com/loqalabs/loqa-beep/internal/eventstore"
	"github.com/loqalabs/loqa-beep/internal/morse"
	"github.com/loqalabs/loqa-beep/internal/music"
	"github.com/loqalabs/loqa-beep/internal/natsserver"
	"github.com/loqalabs/loqa-beep/internal/protocol"
	"github.com/loqalabs/loqa-beep/internal/wavfile"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlayer struct {
	tones []float64
	texts []string
	err   error
}

func (f *fakePlayer) PlayTone(_ context.Context, freq, ms, gap float64, repeats int) error {
	f.tones = append(f.tones, freq, ms, gap, float64(repeats))
	return f.err
}

func (f *fakePlayer) Play(_ context.Context, mode engine.Mode, text string) error {
	f.texts = append(f.texts, string(mode)+":"+text)
	return f.err
}

type harness struct {
	svc    *Service
	conn   *nats.Conn
	store  *eventstore.Store
	player *fakePlayer
}

func newHarness(t *testing.T, chunkBytes int) *harness {
	t.Helper()
	log := newLogger()

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "loqa-beep-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "jobs.db"),
		RetentionMode: "session",
	}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m, err := morse.NewEncoder(750, morse.Timing{WPM: 20})
	if err != nil {
		t.Fatalf("morse: %v", err)
	}
	mu, err := music.NewEncoder(120, 50)
	if err != nil {
		t.Fatalf("music: %v", err)
	}

	player := &fakePlayer{}
	defaults := config.Default()
	svc := NewService(context.Background(), Options{
		Config: config.JobsConfig{Enabled: true, ChunkBytes: chunkBytes, TimeoutMS: 5000, TempDir: t.TempDir()},
		Tone:   defaults.Tone,
		Bus:    client,
		Store:  store,
		Player: player,
		Morse:  m,
		Music:  mu,
		Logger: log,
	})
	t.Cleanup(svc.Close)
	return &harness{svc: svc, conn: client.Conn(), store: store, player: player}
}

func TestRenderStreamsWAVChunks(t *testing.T) {
	h := newHarness(t, 1000)
	audio, err := h.conn.SubscribeSync(protocol.SubjectBeepAudio)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := h.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	status := h.svc.Handle(context.Background(), protocol.BeepRequest{SessionID: "s1", Mode: "morse", Text: "E", Output: protocol.OutputWAV})
	if !status.Completed {
		t.Fatalf("expected completed status, got %+v", status)
	}
	// E at 20 wpm: 60 ms dit, 60 ms element gap, 120 ms character gap
	wantSamples := 2646 + 2646 + 5292
	if status.Samples != wantSamples {
		t.Fatalf("expected %d samples, got %d", wantSamples, status.Samples)
	}

	var wav bytes.Buffer
	for seq := 0; ; seq++ {
		msg, err := audio.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("chunk %d: %v", seq, err)
		}
		var chunk protocol.AudioChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		if chunk.Sequence != seq || chunk.SessionID != "s1" || chunk.SampleRate != 44100 {
			t.Fatalf("unexpected chunk header %+v", chunk)
		}
		wav.Write(chunk.WAV)
		if chunk.Final {
			break
		}
	}
	_, samples, err := wavfile.Decode(bytes.NewReader(wav.Bytes()), int64(wav.Len()))
	if err != nil {
		t.Fatalf("decode reassembled wav: %v", err)
	}
	if len(samples) != wantSamples {
		t.Fatalf("reassembled %d samples, want %d", len(samples), wantSamples)
	}

	jobs, err := h.store.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != eventstore.StatusCompleted || jobs[0].Samples != wantSamples {
		t.Fatalf("unexpected job history %+v", jobs)
	}
}

func TestDeviceRequestUsesDefaults(t *testing.T) {
	h := newHarness(t, 1024)
	status := h.svc.Handle(context.Background(), protocol.BeepRequest{SessionID: "s2", Mode: "tone"})
	if !status.Completed {
		t.Fatalf("expected completed status, got %+v", status)
	}
	want := []float64{440, 200, 50, 1}
	if len(h.player.tones) != 4 {
		t.Fatalf("unexpected tone call %v", h.player.tones)
	}
	for i := range want {
		if h.player.tones[i] != want[i] {
			t.Fatalf("tone call %v, want %v", h.player.tones, want)
		}
	}

	h.svc.Handle(context.Background(), protocol.BeepRequest{SessionID: "s3", Mode: "music", Text: "C4 E4 G4"})
	if len(h.player.texts) != 1 || h.player.texts[0] != "music:C4 E4 G4" {
		t.Fatalf("unexpected play calls %v", h.player.texts)
	}
}

func TestFailuresAreReportedAndRecorded(t *testing.T) {
	h := newHarness(t, 1024)
	h.player.err = errors.New("speaker unplugged")

	for _, req := range []protocol.BeepRequest{
		{SessionID: "bad-mode", Mode: "semaphore"},
		{SessionID: "bad-output", Mode: "tone", Output: "vinyl"},
		{SessionID: "device", Mode: "morse", Text: "SOS"},
		{SessionID: "bad-note", Mode: "music", Text: "C4 X9", Output: protocol.OutputWAV},
	} {
		status := h.svc.Handle(context.Background(), req)
		if status.Completed || status.Error == "" {
			t.Fatalf("%s: expected failure, got %+v", req.SessionID, status)
		}
	}
	jobs, err := h.store.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("expected 4 recorded jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != eventstore.StatusFailed {
			t.Fatalf("expected failed job, got %+v", j)
		}
	}
}

func TestRequestOverBus(t *testing.T) {
	h := newHarness(t, 1024)
	done, err := h.conn.SubscribeSync(protocol.SubjectBeepDone)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := h.svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.svc.Healthy() {
		t.Fatalf("expected healthy service")
	}

	payload, _ := json.Marshal(protocol.BeepRequest{SessionID: "bus-1", Mode: "tone", Frequency: 880, DurationMS: 100, Repeats: 2})
	if err := h.conn.Publish(protocol.SubjectBeepRequest, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := done.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("waiting for status: %v", err)
	}
	var status protocol.BeepStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.SessionID != "bus-1" || !status.Completed {
		t.Fatalf("unexpected status %+v", status)
	}
}
