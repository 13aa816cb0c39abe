package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/liseuse/capture"
	"github.com/hazyhaar/liseuse/dbopen"
)

// PageText is one page's recognised text.
type PageText struct {
	PageIndex    int       `json:"page_index"`
	Body         string    `json:"body"`
	RecognizedAt time.Time `json:"recognized_at"`
}

// OnPageCaptured writes the page image to disk and records the capture
// row. Implements capture.PageSink: failures are logged, never raised.
func (s *Store) OnPageCaptured(ctx context.Context, page capture.PageCapture) {
	path, err := s.writeImage(page)
	if err != nil {
		s.log.Error("store: write page image failed",
			"session", page.SessionID, "page", page.PageIndex, "error", err)
		return
	}

	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO page_captures
			(session_id, page_index, fingerprint, strategy, attempts, image_path, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, page_index) DO NOTHING`,
		page.SessionID, page.PageIndex, page.Fingerprint,
		page.Strategy, page.Attempts, path, fmtTime(page.CapturedAt))
	if err != nil {
		s.log.Error("store: record page capture failed",
			"session", page.SessionID, "page", page.PageIndex, "error", err)
	}
}

func (s *Store) writeImage(page capture.PageCapture) (string, error) {
	dir := filepath.Join(s.dataDir, page.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("page_%04d.png", page.PageIndex))
	if err := os.WriteFile(path, page.Image, 0o644); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return path, nil
}

// SavePageText stores recognised text for one page. Implements ocr.Store.
func (s *Store) SavePageText(ctx context.Context, sessionID string, pageIndex int, text string) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO page_text (session_id, page_index, body, recognized_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, page_index) DO UPDATE SET
			body = excluded.body, recognized_at = excluded.recognized_at`,
		sessionID, pageIndex, text, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: save page text: %w", err)
	}
	return nil
}

// PageTexts returns recognised text for a session in page order.
func (s *Store) PageTexts(ctx context.Context, sessionID string) ([]PageText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_index, body, recognized_at
		FROM page_text WHERE session_id = ? ORDER BY page_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: page texts: %w", err)
	}
	defer rows.Close()

	var out []PageText
	for rows.Next() {
		var pt PageText
		var at string
		if err := rows.Scan(&pt.PageIndex, &pt.Body, &at); err != nil {
			return nil, fmt.Errorf("store: page texts: %w", err)
		}
		pt.RecognizedAt = parseTime(at)
		out = append(out, pt)
	}
	return out, rows.Err()
}

// PageImagePath returns the image file path for one captured page.
func (s *Store) PageImagePath(ctx context.Context, sessionID string, pageIndex int) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `
		SELECT image_path FROM page_captures
		WHERE session_id = ? AND page_index = ?`, sessionID, pageIndex).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: page image path: %w", err)
	}
	return path, nil
}

// PageImagePaths returns all image paths for a session in page order.
func (s *Store) PageImagePaths(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT image_path FROM page_captures
		WHERE session_id = ? ORDER BY page_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: page image paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: page image paths: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
