package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8750" {
		t.Errorf("Listen = %q, want :8750", cfg.Listen)
	}
	if cfg.Capture.DuplicateThreshold != 3 {
		t.Errorf("DuplicateThreshold = %d, want 3", cfg.Capture.DuplicateThreshold)
	}
	if cfg.Capture.BackoffBase.Std() != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 500ms", cfg.Capture.BackoffBase)
	}
	if cfg.Browser.Stealth != "headless" {
		t.Errorf("Stealth = %q, want headless", cfg.Browser.Stealth)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	raw := `
listen: ":9000"
storage:
  db_path: /tmp/liseuse-test.db
browser:
  stealth: headful
  next_selectors:
    - "button.forward"
capture:
  duplicate_threshold: 5
  op_timeout: 30s
ocr:
  enabled: true
`
	path := filepath.Join(t.TempDir(), "liseuse.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q, want :9000", cfg.Listen)
	}
	if cfg.Browser.Stealth != "headful" {
		t.Errorf("Stealth = %q, want headful", cfg.Browser.Stealth)
	}
	if len(cfg.Browser.NextSelectors) != 1 || cfg.Browser.NextSelectors[0] != "button.forward" {
		t.Errorf("NextSelectors = %v", cfg.Browser.NextSelectors)
	}
	if cfg.Capture.DuplicateThreshold != 5 {
		t.Errorf("DuplicateThreshold = %d, want 5", cfg.Capture.DuplicateThreshold)
	}
	if cfg.Capture.OpTimeout.Std() != 30*time.Second {
		t.Errorf("OpTimeout = %v, want 30s", cfg.Capture.OpTimeout)
	}
	// Unset fields still get defaults.
	if cfg.Storage.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.Storage.DataDir)
	}
	if len(cfg.OCR.Languages) != 1 || cfg.OCR.Languages[0] != "eng" {
		t.Errorf("OCR.Languages = %v, want [eng]", cfg.OCR.Languages)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/liseuse.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
