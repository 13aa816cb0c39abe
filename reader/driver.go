package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/liseuse/capture"
)

// Driver implements capture.Driver on one stealth tab. The owning Capture
// Loop holds it exclusively for the session's lifetime.
type Driver struct {
	page *rod.Page
	cfg  Config
	log  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewDriver opens a stealth tab and navigates it to the target document.
// It satisfies capture.DriverFactory when curried over a Manager.
func NewDriver(ctx context.Context, mgr *Manager, targetURL string) (*Driver, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("reader: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("reader: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(targetURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("reader: navigate %s: %w", targetURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("reader: wait load timeout", "url", targetURL, "error", err)
	}

	return &Driver{page: page, cfg: mgr.cfg, log: mgr.cfg.Logger}, nil
}

// Factory returns a capture.DriverFactory backed by this manager.
func (m *Manager) Factory() capture.DriverFactory {
	return func(ctx context.Context, targetURL string) (capture.Driver, error) {
		return NewDriver(ctx, m, targetURL)
	}
}

// Snapshot serialises the DOM, takes a PNG screenshot and probes the
// reader's end-of-document marker.
func (d *Driver) Snapshot(ctx context.Context) (*capture.Snapshot, error) {
	p := d.page.Context(ctx)

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, d.fatal("snapshot dom", err)
	}
	dom := []byte(res.Value.Str())

	img, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, d.fatal("screenshot", err)
	}

	atEnd := false
	for _, sel := range d.cfg.EndSelectors {
		has, _, err := p.Has(sel)
		if err != nil {
			return nil, d.fatal("end-of-document probe", err)
		}
		if has {
			atEnd = true
			break
		}
	}

	return &capture.Snapshot{HTML: dom, Image: img, AtEnd: atEnd}, nil
}

// ClickNext invokes the reader's own next-page control through the
// configured selectors, in order. A missing or hidden control reports
// ErrNoEffect so the loop can escalate.
func (d *Driver) ClickNext(ctx context.Context) error {
	p := d.page.Context(ctx)

	for _, sel := range d.cfg.NextSelectors {
		has, el, err := p.Has(sel)
		if err != nil {
			return d.fatal("query next control", err)
		}
		if !has {
			continue
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			d.log.Debug("reader: next control click failed", "selector", sel, "error", err)
			continue
		}
		return nil
	}
	return capture.ErrNoEffect
}

// NaturalAdvance simulates a human turning the page: the pointer drifts
// into the document area, clicks to focus it, then presses the forward
// key. Some readers filter trivially synthetic events; this sequence
// usually passes their heuristics.
func (d *Driver) NaturalAdvance(ctx context.Context) error {
	p := d.page.Context(ctx)

	res, err := p.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return d.fatal("viewport probe", err)
	}
	x := res.Value.Get("w").Num() * 0.5
	y := res.Value.Get("h").Num() * 0.6

	if err := p.Mouse.MoveLinear(proto.NewPoint(x, y), 12); err != nil {
		return d.fatal("pointer move", err)
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return d.fatal("pointer click", err)
	}
	if err := p.Keyboard.Press(input.ArrowRight); err != nil {
		return d.fatal("key press", err)
	}
	return nil
}

// ReloadSurface force-reloads the embedded rendering surface: re-set the
// reader iframe's src when one is configured, otherwise reload the whole
// page. Recovers internal reader state no input event escapes.
func (d *Driver) ReloadSurface(ctx context.Context) error {
	p := d.page.Context(ctx)

	if d.cfg.SurfaceFrame != "" {
		has, _, err := p.Has(d.cfg.SurfaceFrame)
		if err != nil {
			return d.fatal("query surface frame", err)
		}
		if has {
			js := fmt.Sprintf(`() => { const f = document.querySelector(%q); f.src = f.src; }`, d.cfg.SurfaceFrame)
			if _, err := p.Eval(js); err != nil {
				return d.fatal("reload surface frame", err)
			}
			if err := p.WaitDOMStable(300*time.Millisecond, 0); err != nil {
				d.log.Warn("reader: wait after frame reload", "error", err)
			}
			return nil
		}
	}

	if err := p.Reload(); err != nil {
		return d.fatal("page reload", err)
	}
	if err := p.WaitLoad(); err != nil {
		d.log.Warn("reader: wait load after reload", "error", err)
	}
	return nil
}

// Close closes the tab. Idempotent; called exactly once by the Capture
// Loop's terminal-state handler.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.page.Close()
	})
	return d.closeErr
}

// fatal wraps a rod failure as session-fatal: the loop tears down rather
// than retrying, because a dead tab never comes back by itself.
func (d *Driver) fatal(op string, err error) error {
	return &capture.FatalError{Op: op, Err: err}
}
