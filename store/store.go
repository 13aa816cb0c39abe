// Package store persists capture sessions, page artifacts and progress
// events in SQLite, with page images on the filesystem next to the
// database. It plugs into the capture pipeline as both a page sink and a
// progress reporter.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/capture"
	"github.com/hazyhaar/liseuse/dbopen"
)

// ErrNotFound is returned when a session or page does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS capture_sessions (
	id           TEXT PRIMARY KEY,
	target_url   TEXT NOT NULL,
	max_pages    INTEGER NOT NULL DEFAULT 0,
	current_page INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page_captures (
	session_id  TEXT NOT NULL,
	page_index  INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	strategy    TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	image_path  TEXT NOT NULL,
	captured_at TEXT NOT NULL,
	PRIMARY KEY (session_id, page_index)
);

CREATE TABLE IF NOT EXISTS page_text (
	session_id    TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	body          TEXT NOT NULL,
	recognized_at TEXT NOT NULL,
	PRIMARY KEY (session_id, page_index)
);

CREATE TABLE IF NOT EXISTS progress_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	page_index   INTEGER NOT NULL,
	percent      REAL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progress_session ON progress_events(session_id, id);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db      *sql.DB
	dataDir string
	log     *slog.Logger
}

// Open opens (or creates) the database at path and prepares the image
// data directory.
func Open(path, dataDir string, log *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return New(db, dataDir, log)
}

// New wraps an already-open database. Used directly in tests with
// dbopen.OpenMemory.
func New(db *sql.DB, dataDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: data dir: %w", err)
	}
	return &Store{db: db, dataDir: dataDir, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession records a freshly started session. Progress events may
// already have reached the store for this id; in that case only the
// launch metadata is filled in and the event-fed columns stay as they
// are.
func (s *Store) CreateSession(ctx context.Context, sess capture.Session) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO capture_sessions
			(id, target_url, max_pages, current_page, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_url = excluded.target_url,
			max_pages  = excluded.max_pages,
			started_at = excluded.started_at`,
		sess.ID, sess.TargetURL, sess.MaxPages, sess.CurrentPage,
		string(sess.Status), fmtTime(sess.StartedAt))
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// GetSession returns one session row.
func (s *Store) GetSession(ctx context.Context, id string) (capture.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_url, max_pages, current_page, status,
		       failure_kind, reason, started_at, completed_at
		FROM capture_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capture.Session{}, ErrNotFound
	}
	if err != nil {
		return capture.Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]capture.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_url, max_pages, current_page, status,
		       failure_kind, reason, started_at, completed_at
		FROM capture_sessions ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []capture.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list sessions: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (capture.Session, error) {
	var sess capture.Session
	var status, kind, startedAt, completedAt string
	err := row.Scan(&sess.ID, &sess.TargetURL, &sess.MaxPages, &sess.CurrentPage,
		&status, &kind, &sess.Reason, &startedAt, &completedAt)
	if err != nil {
		return capture.Session{}, err
	}
	sess.Status = capture.Status(status)
	sess.FailureKind = capture.Kind(kind)
	sess.StartedAt = parseTime(startedAt)
	sess.CompletedAt = parseTime(completedAt)
	return sess, nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
