// Package config handles liseuse configuration from YAML files, with
// flag-level overrides applied in cmd.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level liseuse configuration.
type Config struct {
	Listen  string        `yaml:"listen"`
	Storage StorageConfig `yaml:"storage"`
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	OCR     OCRConfig     `yaml:"ocr"`
}

// StorageConfig locates the database and artifact directories.
type StorageConfig struct {
	DBPath    string `yaml:"db_path"`
	DataDir   string `yaml:"data_dir"`
	ExportDir string `yaml:"export_dir"`
}

// BrowserConfig controls the Chrome lifecycle and reader selectors.
type BrowserConfig struct {
	Remote        string   `yaml:"remote"`
	UserDataDir   string   `yaml:"user_data_dir"`
	Stealth       string   `yaml:"stealth"` // headless | headful
	XvfbDisplay   string   `yaml:"xvfb_display"`
	NextSelectors []string `yaml:"next_selectors"`
	EndSelectors  []string `yaml:"end_selectors"`
	SurfaceFrame  string   `yaml:"surface_frame"`
}

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	DuplicateThreshold int      `yaml:"duplicate_threshold"`
	BackoffBase        Duration `yaml:"backoff_base"`
	BackoffMax         Duration `yaml:"backoff_max"`
	OpTimeout          Duration `yaml:"op_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// OCRConfig configures text recognition.
type OCRConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
	DPI       int      `yaml:"dpi"`
}

// LoadFile reads a YAML configuration file. An empty path yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8750"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "liseuse.db"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = "exports"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Capture.DuplicateThreshold <= 0 {
		c.Capture.DuplicateThreshold = 3
	}
	if c.Capture.BackoffBase <= 0 {
		c.Capture.BackoffBase = Duration(500 * time.Millisecond)
	}
	if c.Capture.BackoffMax <= 0 {
		c.Capture.BackoffMax = Duration(2 * time.Second)
	}
	if c.Capture.OpTimeout <= 0 {
		c.Capture.OpTimeout = Duration(15 * time.Second)
	}
	if c.OCR.Enabled && len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}
}
