package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/idgen"
)

// StartRequest describes the document a new session should capture.
type StartRequest struct {
	TargetURL string
	// MaxPages is the page budget; 0 enables end-of-document auto-detect.
	MaxPages int
}

// Manager owns session lifecycles: it establishes drivers, launches one
// Capture Loop goroutine per session, and serves the start/stop/status
// boundary. Callers of Start never block on a session's completion.
type Manager struct {
	factory DriverFactory
	sink    PageSink
	rep     Reporter
	cfg     Config
	newID   idgen.Generator
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*running
}

// running pairs an engine with its stop signal. done closes when the
// loop's goroutine has fully terminated.
type running struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator overrides the session ID strategy.
func WithIDGenerator(gen idgen.Generator) ManagerOption {
	return func(m *Manager) { m.newID = gen }
}

// NewManager creates a session manager. cfg provides per-engine defaults.
func NewManager(factory DriverFactory, sink PageSink, rep Reporter, cfg Config, opts ...ManagerOption) *Manager {
	cfg.defaults()
	m := &Manager{
		factory:  factory,
		sink:     sink,
		rep:      rep,
		cfg:      cfg,
		newID:    idgen.Prefixed("sess_", idgen.Default),
		log:      cfg.Logger,
		sessions: make(map[string]*running),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start establishes a driver for the target document, launches the
// Capture Loop on its own goroutine and returns the session ID
// immediately. Driver establishment failures surface as session_init:
// a terminal failed event is still emitted so the job store sees them.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.TargetURL == "" {
		return "", fmt.Errorf("capture: start: target URL is required")
	}
	if req.MaxPages < 0 {
		return "", fmt.Errorf("capture: start: max_pages must be >= 0")
	}

	id := m.newID()

	drv, err := m.factory(ctx, req.TargetURL)
	if err != nil {
		now := time.Now()
		_, reason := statusFor(&TerminalError{Kind: KindSessionInit})
		m.reportInit(ctx, Event{
			SessionID:   id,
			Status:      StatusFailed,
			FailureKind: KindSessionInit,
			Reason:      reason,
			Timestamp:   now,
		})
		return "", &TerminalError{Kind: KindSessionInit, Err: err}
	}

	eng := NewEngine(id, req.TargetURL, req.MaxPages, drv, m.sink, m.rep, m.cfg)

	// The session's timeline is detached from the caller: cancelling the
	// start request must not kill a session already handed back.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{engine: eng, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.sessions[id] = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		eng.Run(sctx)
	}()

	m.log.Info("capture: session launched", "session_id", id, "target_url", req.TargetURL)
	return id, nil
}

// Stop requests cooperative cancellation. The loop notices within one
// iteration and emits a final aborted event; Stop itself returns
// immediately. Stopping an already-terminal session is a no-op.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	r, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	r.cancel()
	return nil
}

// Status returns a consistent snapshot of one session.
func (m *Manager) Status(id string) (Session, error) {
	m.mu.Lock()
	r, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Session{}, ErrUnknownSession
	}
	return r.engine.Snapshot(), nil
}

// List returns snapshots of every tracked session, newest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.engine.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Done exposes the session's completion signal, mainly for tests and
// graceful shutdown.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	m.mu.Lock()
	r, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return r.done, nil
}

// Shutdown stops every session and waits for the loops to drain, or for
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*running, 0, len(m.sessions))
	for _, r := range m.sessions {
		all = append(all, r)
	}
	m.mu.Unlock()

	for _, r := range all {
		r.cancel()
	}
	for _, r := range all {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// reportInit emits the session_init terminal event, best-effort.
func (m *Manager) reportInit(ctx context.Context, ev Event) {
	if m.rep == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("capture: reporter panicked", "session_id", ev.SessionID, "panic", r)
		}
	}()
	m.rep.Report(ctx, ev)
}
