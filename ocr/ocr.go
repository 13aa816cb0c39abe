// Package ocr recognises text on captured page images. It hangs off the
// capture pipeline as a page sink: recognition failures are logged and
// the page keeps its image, they never stall or fail the session.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/hazyhaar/liseuse/capture"
)

// Store receives recognised page text.
type Store interface {
	SavePageText(ctx context.Context, sessionID string, pageIndex int, text string) error
}

// Config configures the recognizer.
type Config struct {
	// Languages passed to tesseract, e.g. []string{"eng", "fra"}.
	// Empty keeps the tesseract default.
	Languages []string

	// DPI hint for rendered screenshots. 0 keeps the tesseract default.
	DPI int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recognizer runs tesseract over page screenshots and stores the text.
// Implements capture.PageSink.
type Recognizer struct {
	cfg   Config
	store Store

	// newClient is swapped in tests to avoid a tesseract dependency.
	newClient func() *gosseract.Client
}

// NewRecognizer creates a Recognizer writing into store.
func NewRecognizer(store Store, cfg Config) *Recognizer {
	cfg.defaults()
	return &Recognizer{cfg: cfg, store: store, newClient: gosseract.NewClient}
}

// OnPageCaptured recognises the page image and stores the text. A fresh
// client per page keeps tesseract state from leaking across pages.
func (r *Recognizer) OnPageCaptured(ctx context.Context, page capture.PageCapture) {
	log := r.cfg.Logger
	if len(page.Image) == 0 {
		log.Warn("ocr: page has no image", "session", page.SessionID, "page", page.PageIndex)
		return
	}

	text, err := r.recognize(page.Image)
	if err != nil {
		log.Warn("ocr: recognition failed",
			"session", page.SessionID, "page", page.PageIndex, "error", err)
		return
	}

	if err := r.store.SavePageText(ctx, page.SessionID, page.PageIndex, text); err != nil {
		log.Warn("ocr: store text failed",
			"session", page.SessionID, "page", page.PageIndex, "error", err)
		return
	}
	log.Debug("ocr: page recognised",
		"session", page.SessionID, "page", page.PageIndex, "chars", len(text))
}

func (r *Recognizer) recognize(img []byte) (string, error) {
	c := r.newClient()
	defer c.Close()

	if err := c.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("ocr: set image: %w", err)
	}
	if len(r.cfg.Languages) > 0 {
		if err := c.SetLanguage(r.cfg.Languages...); err != nil {
			return "", fmt.Errorf("ocr: set languages: %w", err)
		}
	}
	if r.cfg.DPI > 0 {
		v := gosseract.SettableVariable("user_defined_dpi")
		if err := c.SetVariable(v, fmt.Sprint(r.cfg.DPI)); err != nil {
			return "", fmt.Errorf("ocr: set dpi: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: recognise: %w", err)
	}
	return strings.TrimSpace(text), nil
}
