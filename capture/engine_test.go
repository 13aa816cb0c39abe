package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		OpTimeout:   time.Second,
		Logger:      discardLogger(),
	}
}

func pageHTML(content string) string {
	return fmt.Sprintf("<html><body><p>%s</p></body></html>", content)
}

// fakeDriver scripts the reader's behavior per observation and per
// advance action.
type fakeDriver struct {
	mu    sync.Mutex
	obs   int
	calls []string
	// snap returns the DOM content and the end-of-document flag for the
	// n-th observation (1-based). Defaults to distinct content forever.
	snap    func(n int) (string, bool)
	click   func() error
	natural func() error
	reload  func() error
	closed  bool
}

func (d *fakeDriver) Snapshot(context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.obs++
	content, atEnd := fmt.Sprintf("page %d", d.obs), false
	if d.snap != nil {
		content, atEnd = d.snap(d.obs)
	}
	return &Snapshot{HTML: []byte(pageHTML(content)), Image: []byte("png:" + content), AtEnd: atEnd}, nil
}

func (d *fakeDriver) advance(name string, fn func() error) error {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (d *fakeDriver) ClickNext(context.Context) error { return d.advance("click", d.click) }
func (d *fakeDriver) NaturalAdvance(context.Context) error { return d.advance("natural", d.natural) }
func (d *fakeDriver) ReloadSurface(context.Context) error { return d.advance("reload", d.reload) }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDriver) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// recSink records every capture handed downstream.
type recSink struct {
	mu     sync.Mutex
	pages  []PageCapture
	onPage func(PageCapture)
}

func (s *recSink) OnPageCaptured(_ context.Context, page PageCapture) {
	s.mu.Lock()
	s.pages = append(s.pages, page)
	cb := s.onPage
	s.mu.Unlock()
	if cb != nil {
		cb(page)
	}
}

func (s *recSink) all() []PageCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageCapture, len(s.pages))
	copy(out, s.pages)
	return out
}

// recReporter records every progress event.
type recReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recReporter) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recReporter) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// The reader displays C1 twice, then C2, then C3 forever. With a
// duplicate threshold of 3 the session must record C1, C2, C3 and then
// fail with duplicate_threshold on the third consecutive C3.
func TestEngine_DuplicateThresholdScenario(t *testing.T) {
	script := []string{"C1", "C1", "C2", "C3", "C3", "C3"}
	drv := &fakeDriver{snap: func(n int) (string, bool) {
		if n > len(script) {
			return script[len(script)-1], false
		}
		return script[n-1], false
	}}
	sink := &recSink{}
	rep := &recReporter{}
	eng := NewEngine("sess_a", "https://reader.example/doc", 10, drv, sink, rep, testConfig())

	terr := eng.Run(context.Background())
	if terr == nil || terr.Kind != KindDuplicateThreshold {
		t.Fatalf("terminal = %v, want duplicate_threshold", terr)
	}

	pages := sink.all()
	if len(pages) != 3 {
		t.Fatalf("recorded %d pages, want 3", len(pages))
	}
	for i, want := range []string{"C1", "C2", "C3"} {
		if string(pages[i].Image) != "png:"+want {
			t.Errorf("page %d image = %q, want %q", i+1, pages[i].Image, "png:"+want)
		}
		if pages[i].PageIndex != i+1 {
			t.Errorf("page index = %d, want %d", pages[i].PageIndex, i+1)
		}
	}

	sess := eng.Snapshot()
	if sess.Status != StatusFailed {
		t.Errorf("status = %s, want failed", sess.Status)
	}
	if sess.FailureKind != KindDuplicateThreshold {
		t.Errorf("failure kind = %s", sess.FailureKind)
	}
	if sess.CurrentPage != 3 {
		t.Errorf("current page = %d, want 3", sess.CurrentPage)
	}
	if sess.Reason == "" {
		t.Error("terminal session must carry a reason")
	}
	if !drv.isClosed() {
		t.Error("driver not torn down")
	}

	events := rep.all()
	last := events[len(events)-1]
	if last.Status != StatusFailed || last.FailureKind != KindDuplicateThreshold {
		t.Errorf("last event = %+v", last)
	}
}

// A cooperative reader with a page budget of 5 completes with exactly
// five page events and progress reaching 100 percent.
func TestEngine_CompletesAtMaxPages(t *testing.T) {
	drv := &fakeDriver{}
	sink := &recSink{}
	rep := &recReporter{}
	eng := NewEngine("sess_b", "https://reader.example/doc", 5, drv, sink, rep, testConfig())

	if terr := eng.Run(context.Background()); terr != nil {
		t.Fatalf("Run = %v, want completion", terr)
	}

	pages := sink.all()
	if len(pages) != 5 {
		t.Fatalf("recorded %d pages, want 5", len(pages))
	}
	for i, p := range pages {
		if p.PageIndex != i+1 {
			t.Errorf("page index %d at position %d", p.PageIndex, i)
		}
	}

	sess := eng.Snapshot()
	if sess.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}

	events := rep.all()
	last := events[len(events)-1]
	if last.Status != StatusCompleted {
		t.Errorf("last event status = %s", last.Status)
	}
	if last.Percent == nil || *last.Percent != 100 {
		t.Errorf("final percent = %v, want 100", last.Percent)
	}
	if !drv.isClosed() {
		t.Error("driver not torn down")
	}
}

// Auto-detect sessions (max pages 0) run until the reader's own end
// signal and resolve the page budget retroactively.
func TestEngine_AutoDetectEnd(t *testing.T) {
	drv := &fakeDriver{snap: func(n int) (string, bool) {
		return fmt.Sprintf("page %d", n), n == 3
	}}
	rep := &recReporter{}
	eng := NewEngine("sess_c", "https://reader.example/doc", 0, drv, &recSink{}, rep, testConfig())

	if terr := eng.Run(context.Background()); terr != nil {
		t.Fatalf("Run = %v, want completion", terr)
	}

	sess := eng.Snapshot()
	if sess.MaxPages != 3 {
		t.Errorf("resolved MaxPages = %d, want 3", sess.MaxPages)
	}
	if sess.CurrentPage != 3 {
		t.Errorf("current page = %d, want 3", sess.CurrentPage)
	}

	// Events before resolution carry no percentage.
	events := rep.all()
	if events[0].Percent != nil {
		t.Errorf("pre-resolution percent = %v, want nil", *events[0].Percent)
	}
}

// When no strategy ever works, the session fails with advance_exhausted
// after exactly the configured attempt budget, having escalated through
// every tier in order.
func TestEngine_AdvanceExhausted(t *testing.T) {
	noEffect := func() error { return ErrNoEffect }
	drv := &fakeDriver{
		snap:    func(int) (string, bool) { return "stuck page", false },
		click:   noEffect,
		natural: noEffect,
		reload:  noEffect,
	}
	eng := NewEngine("sess_d", "https://reader.example/doc", 10, drv, &recSink{}, &recReporter{}, testConfig())

	terr := eng.Run(context.Background())
	if terr == nil || terr.Kind != KindAdvanceExhausted {
		t.Fatalf("terminal = %v, want advance_exhausted", terr)
	}

	wantCalls := []string{"click", "click", "natural", "natural", "reload"}
	got := drv.callLog()
	if len(got) != len(wantCalls) {
		t.Fatalf("advance calls = %v, want %v", got, wantCalls)
	}
	for i := range wantCalls {
		if got[i] != wantCalls[i] {
			t.Fatalf("advance calls = %v, want %v", got, wantCalls)
		}
	}

	if len(terr.Attempts) != 5 {
		t.Errorf("attempt log has %d entries, want 5", len(terr.Attempts))
	}
	if terr.Tier != "surface-reload" {
		t.Errorf("deepest tier = %q, want surface-reload", terr.Tier)
	}
	if terr.PageIndex != 1 {
		t.Errorf("page index = %d, want 1", terr.PageIndex)
	}
}

// A reader that acknowledges every advance action while the content
// never changes must not hand tier 1 a fresh budget on each unchanged
// re-capture: the chain position carries forward, every tier gets its
// turn and the session fails with advance_exhausted once the chain is
// spent.
func TestEngine_IneffectiveAdvancesWalkChain(t *testing.T) {
	drv := &fakeDriver{snap: func(int) (string, bool) { return "frozen page", false }}
	cfg := testConfig()
	cfg.DuplicateThreshold = 10
	eng := NewEngine("sess_i", "https://reader.example/doc", 10, drv, &recSink{}, &recReporter{}, cfg)

	terr := eng.Run(context.Background())
	if terr == nil || terr.Kind != KindAdvanceExhausted {
		t.Fatalf("terminal = %v, want advance_exhausted", terr)
	}

	wantCalls := []string{"click", "click", "natural", "natural", "reload"}
	got := drv.callLog()
	if len(got) != len(wantCalls) {
		t.Fatalf("advance calls = %v, want %v", got, wantCalls)
	}
	for i := range wantCalls {
		if got[i] != wantCalls[i] {
			t.Fatalf("advance calls = %v, want %v", got, wantCalls)
		}
	}

	if len(terr.Attempts) != 5 {
		t.Fatalf("attempt log has %d entries, want 5", len(terr.Attempts))
	}
	for i, a := range terr.Attempts {
		if a.Outcome != OutcomeNoChange {
			t.Errorf("attempt %d outcome = %s, want no_change", i+1, a.Outcome)
		}
	}
	if terr.Tier != "surface-reload" {
		t.Errorf("deepest tier = %q, want surface-reload", terr.Tier)
	}
	if terr.PageIndex != 1 {
		t.Errorf("page index = %d, want 1", terr.PageIndex)
	}
}

// A tier that eventually works stops the escalation: the successful
// strategy and attempt count travel with the next page capture.
func TestEngine_EscalationRecovers(t *testing.T) {
	var clicks int
	drv := &fakeDriver{
		click:   func() error { clicks++; return ErrNoEffect },
		natural: nil, // succeeds
	}
	sink := &recSink{}
	eng := NewEngine("sess_e", "https://reader.example/doc", 2, drv, sink, &recReporter{}, testConfig())

	if terr := eng.Run(context.Background()); terr != nil {
		t.Fatalf("Run = %v, want completion", terr)
	}

	pages := sink.all()
	if len(pages) != 2 {
		t.Fatalf("recorded %d pages, want 2", len(pages))
	}
	second := pages[1]
	if second.Strategy != "natural-input" {
		t.Errorf("strategy = %q, want natural-input", second.Strategy)
	}
	if second.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (two clicks, one natural)", second.Attempts)
	}
	if clicks != 2 {
		t.Errorf("click tier tried %d times, want its full budget of 2", clicks)
	}
}

// A driver error that is not ErrNoEffect is fatal: no retry, immediate
// teardown, driver_fatal classification.
func TestEngine_DriverFatal(t *testing.T) {
	dead := errors.New("tab crashed")
	drv := &fakeDriver{click: func() error { return &FatalError{Op: "click next", Err: dead} }}
	eng := NewEngine("sess_f", "https://reader.example/doc", 10, drv, &recSink{}, &recReporter{}, testConfig())

	terr := eng.Run(context.Background())
	if terr == nil || terr.Kind != KindDriverFatal {
		t.Fatalf("terminal = %v, want driver_fatal", terr)
	}
	if !errors.Is(terr, dead) {
		t.Error("terminal error does not wrap the driver failure")
	}
	if len(drv.callLog()) != 1 {
		t.Errorf("fatal error was retried: %v", drv.callLog())
	}
	if !drv.isClosed() {
		t.Error("driver not torn down")
	}
}

// Cancelling the session context aborts within one loop iteration and no
// page events follow the terminal event.
func TestEngine_CooperativeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recSink{}
	sink.onPage = func(p PageCapture) {
		if p.PageIndex == 3 {
			cancel()
		}
	}
	drv := &fakeDriver{}
	rep := &recReporter{}
	eng := NewEngine("sess_g", "https://reader.example/doc", 0, drv, sink, rep, testConfig())

	terr := eng.Run(ctx)
	if terr == nil || terr.Kind != KindAborted {
		t.Fatalf("terminal = %v, want aborted", terr)
	}

	sess := eng.Snapshot()
	if sess.Status != StatusAborted {
		t.Errorf("status = %s, want aborted", sess.Status)
	}

	pagesAtReturn := len(sink.all())
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.all()); n != pagesAtReturn {
		t.Errorf("pages kept flowing after termination: %d -> %d", pagesAtReturn, n)
	}

	events := rep.all()
	last := events[len(events)-1]
	if last.Status != StatusAborted {
		t.Errorf("last event status = %s, want aborted", last.Status)
	}
	if !drv.isClosed() {
		t.Error("driver not torn down")
	}
}

// Duplicate captures below the threshold never reach the sinks and never
// advance the page index.
func TestEngine_DuplicatesNotHandedDownstream(t *testing.T) {
	script := []string{"C1", "C1", "C2", "C2", "C3"}
	drv := &fakeDriver{snap: func(n int) (string, bool) {
		if n > len(script) {
			return script[len(script)-1], true
		}
		return script[n-1], n == len(script)
	}}
	sink := &recSink{}
	eng := NewEngine("sess_h", "https://reader.example/doc", 0, drv, sink, &recReporter{}, testConfig())

	if terr := eng.Run(context.Background()); terr != nil {
		t.Fatalf("Run = %v, want completion", terr)
	}

	pages := sink.all()
	if len(pages) != 3 {
		t.Fatalf("recorded %d pages, want 3", len(pages))
	}
	for i, p := range pages {
		if p.PageIndex != i+1 {
			t.Fatalf("page indices not gap-free: %v", pages)
		}
	}
}

func TestBackoffEscalates(t *testing.T) {
	cfg := Config{BackoffBase: 100 * time.Millisecond, BackoffMax: 350 * time.Millisecond}
	cfg.defaults()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
