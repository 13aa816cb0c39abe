package store

import (
	"context"

	"github.com/hazyhaar/liseuse/capture"
	"github.com/hazyhaar/liseuse/dbopen"
)

// Report appends a progress event and folds it into the session row.
// Implements capture.Reporter: persistence failures are logged and
// swallowed, progress reporting never blocks the capture loop.
func (s *Store) Report(ctx context.Context, ev capture.Event) {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO progress_events
			(session_id, page_index, percent, status, failure_kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.PageIndex, ev.Percent,
		string(ev.Status), string(ev.FailureKind), ev.Reason, fmtTime(ev.Timestamp))
	if err != nil {
		s.log.Error("store: record progress event failed",
			"session", ev.SessionID, "error", err)
	}

	// The fold is an upsert: the engine starts reporting the moment its
	// goroutine launches, so an event can reach the store before the
	// session row has been created. CreateSession fills in the launch
	// metadata afterwards.
	completed := ""
	if ev.Status.Terminal() {
		completed = fmtTime(ev.Timestamp)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO capture_sessions
			(id, target_url, current_page, status, failure_kind, reason, started_at, completed_at)
		VALUES (?, '', ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_page = excluded.current_page,
			status       = excluded.status,
			failure_kind = excluded.failure_kind,
			reason       = excluded.reason,
			completed_at = CASE WHEN excluded.completed_at = ''
				THEN capture_sessions.completed_at ELSE excluded.completed_at END`,
		ev.SessionID, ev.PageIndex, string(ev.Status), string(ev.FailureKind),
		ev.Reason, fmtTime(ev.Timestamp), completed)
	if err != nil {
		s.log.Error("store: update session from event failed",
			"session", ev.SessionID, "error", err)
	}
}

// Events returns the most recent progress events for a session, newest
// first, capped at limit (<=0 means 50).
func (s *Store) Events(ctx context.Context, sessionID string, limit int) ([]capture.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, page_index, percent, status, failure_kind, reason, created_at
		FROM progress_events WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capture.Event
	for rows.Next() {
		var ev capture.Event
		var status, kind, at string
		if err := rows.Scan(&ev.SessionID, &ev.PageIndex, &ev.Percent,
			&status, &kind, &ev.Reason, &at); err != nil {
			return nil, err
		}
		ev.Status = capture.Status(status)
		ev.FailureKind = capture.Kind(kind)
		ev.Timestamp = parseTime(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}
