// Package reader drives the remote document reader through Chrome. It
// owns the browser lifecycle (launch a local headless-shell or attach to
// a remote instance, headful under Xvfb when the reader blocks headless)
// and implements the capture.Driver contract on top of a stealth tab.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser manager and the per-session drivers.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher. A remote instance is
	// also how an already-authenticated profile is supplied: signing in
	// to the content provider is a precondition, not this package's job.
	RemoteURL string

	// UserDataDir points a locally launched Chrome at a persistent
	// profile carrying the provider auth cookies.
	UserDataDir string

	// Headful runs Chrome with a real renderer under Xvfb. Some readers
	// refuse headless mode outright.
	Headful bool

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// NavTimeout bounds navigation to the target document. Default: 30s.
	NavTimeout time.Duration

	// NextSelectors are tried in order by the next-control strategy.
	// DOM structure varies by document edition, so several equivalent
	// selectors are configured.
	NextSelectors []string

	// EndSelectors mark the reader's own end-of-document indicator.
	EndSelectors []string

	// SurfaceFrame is the CSS selector of the iframe embedding the
	// rendering surface. Empty means the document renders in the page
	// itself and surface reload falls back to a full page reload.
	SurfaceFrame string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if len(c.NextSelectors) == 0 {
		c.NextSelectors = []string{
			`[aria-label="Next page"]`,
			`[data-testid="next-page"]`,
			`button.next-page`,
			`.kix-zoomdocumentplugin-next`,
		}
	}
	if len(c.EndSelectors) == 0 {
		c.EndSelectors = []string{
			`[data-end-of-document]`,
			`.reader-end-marker`,
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the Chrome process shared by all sessions. Each session
// gets its own tab; no two Capture Loops share a driver handle.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("reader: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger

	if m.cfg.Headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return fmt.Errorf("reader: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New()
		if m.cfg.Headful {
			l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		} else {
			l = l.Headless(true)
		}
		if m.cfg.UserDataDir != "" {
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		// Anti-detection flag.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("reader: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("reader: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	} else {
		log.Info("reader: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("reader: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Browser returns the current rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return nil
}
