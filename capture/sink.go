package capture

import (
	"context"
	"log/slog"
)

// PageSink receives accepted page captures (the OCR collaborator, the
// store). The contract is one-way: a sink must not raise back into the
// Capture Loop, so the interface returns nothing and implementations log
// their own failures.
type PageSink interface {
	OnPageCaptured(ctx context.Context, page PageCapture)
}

// PageFanout delivers each capture to every sink in order. A panicking
// sink is contained and logged; the loop keeps its forward-only cadence.
type PageFanout struct {
	sinks  []PageSink
	logger *slog.Logger
}

// NewPageFanout creates a fan-out sink.
func NewPageFanout(logger *slog.Logger, sinks ...PageSink) *PageFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFanout{sinks: sinks, logger: logger}
}

func (f *PageFanout) OnPageCaptured(ctx context.Context, page PageCapture) {
	for _, s := range f.sinks {
		f.deliver(ctx, s, page)
	}
}

func (f *PageFanout) deliver(ctx context.Context, s PageSink, page PageCapture) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("capture: page sink panicked",
				"session_id", page.SessionID, "page_index", page.PageIndex, "panic", r)
		}
	}()
	s.OnPageCaptured(ctx, page)
}
