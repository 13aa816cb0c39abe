package capture

import (
	"context"
	"log/slog"
	"time"
)

// Event is one progress report for a session. Terminal events carry the
// failure kind and a human-readable reason.
type Event struct {
	SessionID string `json:"session_id"`
	PageIndex int    `json:"page_index"`

	// Percent is nil while MaxPages is unresolved (auto-detect mode).
	Percent *float64 `json:"percent,omitempty"`

	Status      Status    `json:"status"`
	FailureKind Kind      `json:"failure_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Reporter receives progress events. Delivery is fire-and-forget:
// implementations swallow their own failures, so a broken consumer never
// blocks or fails the capture session.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// ReporterRouter fans events out to all configured reporters.
type ReporterRouter struct {
	reporters []Reporter
}

// NewReporterRouter creates a fan-out router delivering to all reporters.
func NewReporterRouter(reporters ...Reporter) *ReporterRouter {
	return &ReporterRouter{reporters: reporters}
}

func (r *ReporterRouter) Report(ctx context.Context, ev Event) {
	for _, rep := range r.reporters {
		rep.Report(ctx, ev)
	}
}

// SlogReporter logs every event through slog.
type SlogReporter struct {
	Logger *slog.Logger
}

func (r SlogReporter) Report(_ context.Context, ev Event) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		"session_id", ev.SessionID,
		"page_index", ev.PageIndex,
		"status", ev.Status,
	}
	if ev.Percent != nil {
		attrs = append(attrs, "percent", *ev.Percent)
	}
	if ev.FailureKind != "" {
		attrs = append(attrs, "kind", ev.FailureKind, "reason", ev.Reason)
	}
	log.Info("capture: progress", attrs...)
}

// percentComplete computes index/max(maxPages,1)*100 clamped to [0,100],
// or nil while the page budget is unresolved.
func percentComplete(pageIndex, maxPages int) *float64 {
	if maxPages <= 0 {
		return nil
	}
	p := float64(pageIndex) / float64(maxPages) * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}
