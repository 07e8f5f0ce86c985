package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadyBeforeStart(t *testing.T) {
	r := New(config.Default(), newLogger())
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
}

func TestJobsEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "jobs.db")
	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, mode := range []string{"tone", "morse", "music"} {
		if _, err := store.AppendJob(context.Background(), eventstore.Job{SessionID: mode, Mode: mode, Status: eventstore.StatusCompleted}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	r := New(cfg, newLogger())
	r.store = store
	rec := httptest.NewRecorder()
	r.handleJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jobs []eventstore.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Mode != "music" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}
