package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-beep/internal/config"
)

// Job status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one recorded playback or render request.
type Job struct {
	ID         int64
	SessionID  string
	Mode       string
	Text       string
	Output     string
	Status     string
	Error      string
	Samples    int
	DurationMS float64
	CreatedAt  time.Time
}

// Store keeps job history in SQLite. In ephemeral mode nothing is written
// and every call succeeds.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the service appends from several goroutines
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    text TEXT,
    output TEXT,
    status TEXT NOT NULL,
    error TEXT,
    samples INTEGER NOT NULL DEFAULT 0,
    duration_ms REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) persistent() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendJob records a finished job and returns its id (0 when ephemeral).
func (s *Store) AppendJob(ctx context.Context, job Job) (int64, error) {
	if !s.persistent() {
		return 0, nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(session_id, mode, text, output, status, error, samples, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.SessionID, job.Mode, job.Text, job.Output, job.Status, job.Error, job.Samples, job.DurationMS,
		job.CreatedAt.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("append job: %w", err)
	}
	return res.LastInsertId()
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.query(ctx, `SELECT id, session_id, mode, text, output, status, error, samples, duration_ms, created_at
		 FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// SessionJobs returns up to limit jobs of one session, oldest first.
func (s *Store) SessionJobs(ctx context.Context, sessionID string, limit int) ([]Job, error) {
	return s.query(ctx, `SELECT id, session_id, mode, text, output, status, error, samples, duration_ms, created_at
		 FROM jobs WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, limit, sessionID)
}

func (s *Store) query(ctx context.Context, q string, limit int, args ...any) ([]Job, error) {
	if !s.persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j       Job
			text    sql.NullString
			output  sql.NullString
			errText sql.NullString
			created int64
		)
		if err := rows.Scan(&j.ID, &j.SessionID, &j.Mode, &text, &output, &j.Status, &errText, &j.Samples, &j.DurationMS, &created); err != nil {
			return nil, err
		}
		j.Text, j.Output, j.Error = text.String, output.String, errText.String
		j.CreatedAt = time.Unix(0, created).UTC()
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune applies the configured retention: jobs older than retention_days
// and all but the newest max_jobs are removed.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.persistent() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff.UTC().UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure reports a misconfigured store.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
