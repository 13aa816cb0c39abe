// Package httpapi exposes the capture service over HTTP: start and stop
// sessions, poll progress, fetch recognised page text and download the
// assembled PDF.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/liseuse/capture"
	"github.com/hazyhaar/liseuse/export"
	"github.com/hazyhaar/liseuse/store"
)

// Service wires the session manager and the store behind a chi router.
type Service struct {
	mgr *capture.Manager
	st  *store.Store

	// exportDir holds assembled PDFs, one per session.
	exportDir string
	log       *slog.Logger
}

// NewService creates the HTTP service.
func NewService(mgr *capture.Manager, st *store.Store, exportDir string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{mgr: mgr, st: st, exportDir: exportDir, log: log}
}

// Router builds the HTTP routing table.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(MaxBody(64 * 1024))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.startSession)
		r.Get("/", s.listSessions)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.stopSession)
		r.Get("/{id}/pages/{idx}", s.getPageText)
		r.Get("/{id}/pages/{idx}/image", s.getPageImage)
		r.Get("/{id}/export.pdf", s.exportPDF)
	})

	return r
}

func (s *Service) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		MaxPages int    `json:"max_pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" {
		writeError(w, 422, errors.New("url is required"))
		return
	}
	if req.MaxPages < 0 {
		writeError(w, 422, errors.New("max_pages must be >= 0"))
		return
	}

	id, err := s.mgr.Start(r.Context(), capture.StartRequest{
		TargetURL: req.URL,
		MaxPages:  req.MaxPages,
	})
	if err != nil {
		var terr *capture.TerminalError
		if errors.As(err, &terr) && terr.Kind == capture.KindSessionInit {
			writeError(w, 502, fmt.Errorf("session establishment failed: %w", err))
			return
		}
		writeError(w, 422, err)
		return
	}

	if sess, serr := s.mgr.Status(id); serr == nil {
		if err := s.st.CreateSession(r.Context(), sess); err != nil {
			s.log.Warn("httpapi: persist new session", "session_id", id, "error", err)
		}
	}

	writeJSON(w, 202, map[string]string{"session_id": id})
}

func (s *Service) listSessions(w http.ResponseWriter, r *http.Request) {
	// Live sessions first, then persisted history from earlier runs.
	live := s.mgr.List()
	seen := make(map[string]bool, len(live))
	for _, sess := range live {
		seen[sess.ID] = true
	}

	stored, err := s.st.ListSessions(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	out := live
	for _, sess := range stored {
		if !seen[sess.ID] {
			out = append(out, sess)
		}
	}
	if out == nil {
		out = []capture.Session{}
	}
	writeJSON(w, 200, out)
}

func (s *Service) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.mgr.Status(id)
	if errors.Is(err, capture.ErrUnknownSession) {
		sess, err = s.st.GetSession(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, 404, errors.New("unknown session"))
			return
		}
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}

	events, err := s.st.Events(r.Context(), id, 20)
	if err != nil {
		s.log.Warn("httpapi: load events", "session_id", id, "error", err)
	}
	writeJSON(w, 200, map[string]any{
		"session": sess,
		"events":  events,
	})
}

func (s *Service) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.mgr.Status(id)
	if errors.Is(err, capture.ErrUnknownSession) {
		sess, err = s.st.GetSession(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, 404, errors.New("unknown session"))
			return
		}
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if sess.Status.Terminal() {
		writeError(w, 409, fmt.Errorf("session already %s", sess.Status))
		return
	}
	if err := s.mgr.Stop(id); err != nil {
		// Stored as running by an earlier process that died with it.
		if errors.Is(err, capture.ErrUnknownSession) {
			writeError(w, 409, errors.New("session is not running in this process"))
			return
		}
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 202, map[string]string{"session_id": id, "status": "stopping"})
}

func (s *Service) getPageText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 1 {
		writeError(w, 422, errors.New("page index must be a positive integer"))
		return
	}

	texts, err := s.st.PageTexts(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	for _, pt := range texts {
		if pt.PageIndex == idx {
			writeJSON(w, 200, pt)
			return
		}
	}
	writeError(w, 404, errors.New("no text for page"))
}

func (s *Service) getPageImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 1 {
		writeError(w, 422, errors.New("page index must be a positive integer"))
		return
	}

	path, err := s.st.PageImagePath(r.Context(), id, idx)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, 404, errors.New("no image for page"))
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (s *Service) exportPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	out := filepath.Join(s.exportDir, id+".pdf")
	err := export.PDF(r.Context(), s.st, id, out)
	if errors.Is(err, export.ErrNoPages) {
		writeError(w, 409, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
