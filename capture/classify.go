package capture

import (
	"context"
	"time"
)

// classify maps the loop's terminal state onto the externally visible
// status and human-readable reason. A nil TerminalError means the session
// completed. It is the single place a session reaches its end state: it
// finalizes the snapshot, emits the terminal progress event, and tears the
// driver down exactly once.
func (e *Engine) classify(ctx context.Context, terr *TerminalError) *TerminalError {
	status := StatusCompleted
	reason := ""
	if terr != nil {
		status, reason = statusFor(terr)
	}

	e.mu.Lock()
	e.s.Status = status
	e.s.Reason = reason
	if terr != nil {
		e.s.FailureKind = terr.Kind
	}
	e.s.CompletedAt = time.Now()
	snap := e.s
	e.mu.Unlock()

	ev := Event{
		SessionID: snap.ID,
		PageIndex: snap.CurrentPage,
		Percent:   percentComplete(snap.CurrentPage, snap.MaxPages),
		Status:    status,
		Reason:    reason,
		Timestamp: snap.CompletedAt,
	}
	if terr != nil {
		ev.FailureKind = terr.Kind
	}
	// Terminal events must reach the job store even when the session
	// context is already cancelled.
	e.report(context.WithoutCancel(ctx), ev)

	e.teardown()

	if terr != nil {
		e.log.Warn("capture: session terminated",
			"session_id", snap.ID, "status", status, "kind", terr.Kind,
			"page_index", terr.PageIndex, "tier", terr.Tier, "error", terr.Err)
	} else {
		e.log.Info("capture: session completed",
			"session_id", snap.ID, "pages", snap.CurrentPage)
	}
	return terr
}

// statusFor derives the user-visible status and reason from a terminal
// error kind. Aborted is a normal terminal state, not a failure; pages
// captured before any failure remain valid and retrievable.
func statusFor(terr *TerminalError) (Status, string) {
	switch terr.Kind {
	case KindAborted:
		return StatusAborted, "capture stopped on request"
	case KindSessionInit:
		return StatusFailed, "the automation session could not be established"
	case KindAdvanceExhausted:
		return StatusFailed, "the reader stopped responding to page-advance actions"
	case KindDuplicateThreshold:
		return StatusFailed, "the reader kept displaying the same page despite advancing"
	case KindDriverFatal:
		return StatusFailed, "the browser session died mid-capture"
	default:
		return StatusFailed, "capture failed"
	}
}

// teardown closes the driver exactly once.
func (e *Engine) teardown() {
	e.closeOnce.Do(func() {
		if err := e.drv.Close(); err != nil {
			e.log.Warn("capture: driver close failed", "session_id", e.s.ID, "error", err)
		}
	})
}
