// Package eventstore keeps a SQLite ledger of pipeline runs and their events.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/minibook/internal/config"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Timestamps are stored fixed-width so string comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one compose or narrate invocation.
type Run struct {
	ID        string
	Kind      string
	Subject   string
	Status    string
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event represents a recorded step of a run.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps the SQLite-backed run ledger. A nil *Store and an ephemeral
// store accept every call and persist nothing.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
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
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    subject TEXT,
    status TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TEXT NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) disabled() bool {
	return s == nil || s.db == nil
}

func (s *Store) now() string {
	return s.clock().UTC().Format(timeLayout)
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.disabled() {
		return nil
	}
	return s.db.Close()
}

// BeginRun registers a run and returns its id. The id is generated even when
// nothing is persisted so callers can always log it.
func (s *Store) BeginRun(ctx context.Context, kind, subject string) (string, error) {
	id := uuid.NewString()
	if s.disabled() {
		return id, nil
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, kind, subject, status, detail, created_at, updated_at)
		 VALUES(?, ?, ?, ?, '', ?, ?)`,
		id, kind, subject, StatusRunning, now, now)
	if err != nil {
		return id, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status, detail string) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, detail = ?, updated_at = ? WHERE run_id = ?`,
		status, detail, s.now(), runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.RunID == "" {
		return errors.New("event run id must not be empty")
	}
	created := s.now()
	if !evt.CreatedAt.IsZero() {
		created = evt.CreatedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(run_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.RunID, evt.Type, evt.Payload, created)
	return err
}

// Record appends a JSON event and only logs failures; the ledger never
// interrupts a pipeline.
func (s *Store) Record(ctx context.Context, runID, eventType string, payload any) {
	if s.disabled() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("encode ledger event failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	if err := s.AppendEvent(ctx, Event{RunID: runID, Type: eventType, Payload: data}); err != nil {
		s.log.Warn("append ledger event failed", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, kind, subject, status, detail, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created, updated string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Subject, &r.Status, &r.Detail, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, payload, created_at
		 FROM events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() || s.cfg.RetentionMode != "persistent" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().Format(timeLayout)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func parseTime(value string) time.Time {
	if ts, err := time.Parse(timeLayout, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}
