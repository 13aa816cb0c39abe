package capture

import (
	"log/slog"
	"time"
)

// Config tunes the Capture Loop.
type Config struct {
	// DuplicateThreshold is the consecutive-identical-capture run length
	// that aborts the session. Default: 3.
	DuplicateThreshold int

	// Chain is the ordered advance strategy escalation. Default: DefaultChain.
	Chain []Tier

	// BackoffBase is the wait after the first failed advance attempt; the
	// wait doubles per attempt up to BackoffMax. Defaults: 500ms, 2s.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// OpTimeout bounds each individual capture and advance operation.
	// The session as a whole has no wall-clock timeout; long sessions
	// are expected. Default: 15s.
	OpTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 3
	}
	if len(c.Chain) == 0 {
		c.Chain = DefaultChain()
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// backoff returns the escalating wait before retry attempt n (1-based):
// base, 2*base, 4*base, ... capped at BackoffMax.
func (c *Config) backoff(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < attempt && d < c.BackoffMax; i++ {
		d *= 2
	}
	if d > c.BackoffMax {
		d = c.BackoffMax
	}
	return d
}
