// Package capture implements the capture-and-verification engine: a
// per-session state machine that drives a flaky remote document reader
// through repeated advance actions, detects via content fingerprinting
// whether each action actually worked, escalates through a chain of
// advance strategies, and classifies retry exhaustion into a closed set
// of terminal outcomes.
//
// The engine observes, advances and verifies; it does not extract text or
// serve HTTP. Accepted pages flow to PageSink collaborators and progress
// flows to Reporter collaborators, both strictly one-way.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Engine runs the Capture Loop for exactly one session. It owns the
// driver handle for the session's lifetime; no external mutation is
// permitted while running.
type Engine struct {
	cfg  Config
	drv  Driver
	sink PageSink
	rep  Reporter
	log  *slog.Logger

	mu       sync.Mutex
	s        Session
	attempts []AdvanceAttempt // advance attempts for the page being worked
	tier     string           // deepest strategy tier reached for that page

	closeOnce sync.Once
}

// NewEngine prepares an engine in the pending state. Run starts the loop.
func NewEngine(id, targetURL string, maxPages int, drv Driver, sink PageSink, rep Reporter, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:  cfg,
		drv:  drv,
		sink: sink,
		rep:  rep,
		log:  cfg.Logger,
		s: Session{
			ID:        id,
			TargetURL: targetURL,
			MaxPages:  maxPages,
			Status:    StatusPending,
		},
	}
}

// Snapshot returns a consistent copy of the session state.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s
}

// Run drives the session to a terminal state and returns the classified
// terminal error, or nil when the session completed. It blocks for the
// session's lifetime (callers launch it on a dedicated goroutine) and
// checks the stop signal once per iteration (cooperative, not preemptive).
func (e *Engine) Run(ctx context.Context) *TerminalError {
	e.mu.Lock()
	e.s.Status = StatusRunning
	e.s.StartedAt = time.Now()
	start := e.s
	e.mu.Unlock()

	e.report(ctx, Event{
		SessionID: start.ID,
		Percent:   percentComplete(0, start.MaxPages),
		Status:    StatusRunning,
		Timestamp: start.StartedAt,
	})
	e.log.Info("capture: session started",
		"session_id", start.ID, "target_url", start.TargetURL, "max_pages", start.MaxPages)

	var prevFP string
	strategy := "" // strategy that reached the capture about to be taken
	attempts := 0

	for {
		if ctx.Err() != nil {
			return e.classify(ctx, &TerminalError{Kind: KindAborted, PageIndex: e.page()})
		}

		snap, fp, terr := e.observe(ctx)
		if terr != nil {
			return e.classify(ctx, terr)
		}

		if prevFP != "" && fp == prevFP {
			// The advance reported success but the content is unchanged.
			// The attempt stays consumed, so the next advance resumes at
			// the following chain slot instead of handing tier 1 a fresh
			// budget. Duplicates are never handed downstream.
			e.markLastAttemptIneffective()
			run := e.bumpDuplicateRun()
			e.log.Debug("capture: duplicate fingerprint",
				"session_id", start.ID, "fingerprint", fp, "run", run)
			if run >= e.cfg.DuplicateThreshold {
				return e.classify(ctx, &TerminalError{
					Kind:      KindDuplicateThreshold,
					PageIndex: e.page(),
					Attempts:  e.attemptLog(),
					Tier:      e.deepestTier(),
				})
			}
		} else {
			prevFP = fp
			e.recordPage(ctx, snap, fp, strategy, attempts)
		}

		if e.done(snap) {
			return e.classify(ctx, nil)
		}

		strategy, attempts, terr = e.advance(ctx)
		if terr != nil {
			return e.classify(ctx, terr)
		}
	}
}

// observe captures a snapshot under the per-operation timeout and
// fingerprints it.
func (e *Engine) observe(ctx context.Context) (*Snapshot, string, *TerminalError) {
	octx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	snap, err := e.drv.Snapshot(octx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", &TerminalError{Kind: KindAborted, PageIndex: e.page()}
		}
		return nil, "", &TerminalError{
			Kind:      KindDriverFatal,
			PageIndex: e.page(),
			Attempts:  e.attemptLog(),
			Err:       err,
		}
	}
	return snap, Fingerprint(snap.HTML), nil
}

// recordPage accepts a new page: duplicate run and strategy chain reset,
// the capture is handed to the sinks, the index advances and a progress
// event fires. Indices are strictly increasing and gap-free; downstream
// may assume it.
func (e *Engine) recordPage(ctx context.Context, snap *Snapshot, fp, strategy string, attempts int) {
	now := time.Now()

	e.mu.Lock()
	e.s.CurrentPage++
	e.s.DuplicateRun = 1
	e.attempts = e.attempts[:0]
	e.tier = ""
	idx := e.s.CurrentPage
	maxPages := e.s.MaxPages
	e.mu.Unlock()

	e.handOff(ctx, PageCapture{
		SessionID:   e.s.ID,
		PageIndex:   idx,
		Image:       snap.Image,
		Fingerprint: fp,
		CapturedAt:  now,
		Strategy:    strategy,
		Attempts:    attempts,
	})
	e.report(ctx, Event{
		SessionID: e.s.ID,
		PageIndex: idx,
		Percent:   percentComplete(idx, maxPages),
		Status:    StatusRunning,
		Timestamp: now,
	})
	e.log.Info("capture: page recorded",
		"session_id", e.s.ID, "page_index", idx, "strategy", strategy, "attempts", attempts)
}

// done checks the two normal completion conditions: page budget reached,
// or the reader's end-of-document signal. Auto-detect sessions resolve
// their page budget retroactively when the signal fires.
func (e *Engine) done(snap *Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.MaxPages > 0 && e.s.CurrentPage >= e.s.MaxPages {
		return true
	}
	if snap.AtEnd {
		if e.s.MaxPages == 0 {
			e.s.MaxPages = e.s.CurrentPage
		}
		return true
	}
	return false
}

// advance runs the strategy chain: tier K's attempt budget is exhausted
// before tier K+1 is tried, with escalating waits between attempts. The
// chain position carries over between calls for the same page; attempts
// already spent (including ones that reported success without changing
// the content) keep their slots, and recordPage resets the chain when a
// page is accepted. advance returns the successful strategy and the
// attempts spent on this page, or the terminal error when every budget
// is exhausted or the driver died.
func (e *Engine) advance(ctx context.Context) (string, int, *TerminalError) {
	total := 0
	for _, t := range e.cfg.Chain {
		for i := 0; i < t.Attempts; i++ {
			total++
			if total <= e.attemptCount() {
				continue // spent before a verified-unchanged re-capture
			}
			if ctx.Err() != nil {
				return "", e.attemptCount(), &TerminalError{Kind: KindAborted, PageIndex: e.page()}
			}
			e.setTier(t.Strategy.ID())
			if total > 1 && !sleepCtx(ctx, e.cfg.backoff(total-1)) {
				return "", e.attemptCount(), &TerminalError{Kind: KindAborted, PageIndex: e.page()}
			}

			start := time.Now()
			actx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
			err := t.Strategy.Attempt(actx, e.drv)
			cancel()
			latency := time.Since(start)

			switch {
			case err == nil:
				e.logAttempt(AdvanceAttempt{
					StrategyID: t.Strategy.ID(), Attempt: total,
					Outcome: OutcomeSuccess, Latency: latency,
				})
				return t.Strategy.ID(), total, nil

			case errors.Is(err, ErrNoEffect):
				e.logAttempt(AdvanceAttempt{
					StrategyID: t.Strategy.ID(), Attempt: total,
					Outcome: OutcomeNoChange, Latency: latency,
				})
				e.log.Debug("capture: advance had no effect",
					"session_id", e.s.ID, "strategy", t.Strategy.ID(), "attempt", total)

			default:
				e.logAttempt(AdvanceAttempt{
					StrategyID: t.Strategy.ID(), Attempt: total,
					Outcome: OutcomeError, Latency: latency,
				})
				if ctx.Err() != nil {
					return "", e.attemptCount(), &TerminalError{Kind: KindAborted, PageIndex: e.page()}
				}
				return "", e.attemptCount(), &TerminalError{
					Kind:      KindDriverFatal,
					PageIndex: e.page(),
					Attempts:  e.attemptLog(),
					Tier:      t.Strategy.ID(),
					Err:       err,
				}
			}
		}
	}

	return "", e.attemptCount(), &TerminalError{
		Kind:      KindAdvanceExhausted,
		PageIndex: e.page(),
		Attempts:  e.attemptLog(),
		Tier:      e.deepestTier(),
	}
}

// handOff delivers a capture to the sink, containing sink panics so a
// broken collaborator cannot take the loop down with it.
func (e *Engine) handOff(ctx context.Context, page PageCapture) {
	if e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("capture: page sink panicked",
				"session_id", page.SessionID, "page_index", page.PageIndex, "panic", r)
		}
	}()
	e.sink.OnPageCaptured(ctx, page)
}

// report emits a progress event, best-effort.
func (e *Engine) report(ctx context.Context, ev Event) {
	if e.rep == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("capture: reporter panicked", "session_id", ev.SessionID, "panic", r)
		}
	}()
	e.rep.Report(ctx, ev)
}

func (e *Engine) page() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.CurrentPage
}

func (e *Engine) bumpDuplicateRun() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.DuplicateRun++
	return e.s.DuplicateRun
}

// markLastAttemptIneffective downgrades the most recent advance attempt
// after the re-capture showed it changed nothing.
func (e *Engine) markLastAttemptIneffective() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.attempts); n > 0 {
		e.attempts[n-1].Outcome = OutcomeNoChange
	}
}

func (e *Engine) logAttempt(a AdvanceAttempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = append(e.attempts, a)
}

func (e *Engine) attemptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.attempts)
}

func (e *Engine) attemptLog() []AdvanceAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AdvanceAttempt, len(e.attempts))
	copy(out, e.attempts)
	return out
}

func (e *Engine) setTier(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tier = id
}

func (e *Engine) deepestTier() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tier
}

// sleepCtx waits d or until ctx is cancelled. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
