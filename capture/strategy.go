package capture

import (
	"context"
	"time"
)

// Outcome classifies one advance attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNoChange Outcome = "no_change"
	OutcomeError    Outcome = "error"
)

// AdvanceAttempt is the record of one attempt to move the reader forward.
type AdvanceAttempt struct {
	StrategyID string        `json:"strategy_id"`
	Attempt    int           `json:"attempt"`
	Outcome    Outcome       `json:"outcome"`
	Latency    time.Duration `json:"latency"`
}

// Strategy is one technique for advancing the reader to its next page.
// Attempt returns nil when the action was performed, ErrNoEffect when it
// had nothing to act on, and any other error when the session is dead.
// New strategies append to the chain without touching the state machine.
type Strategy interface {
	ID() string
	Attempt(ctx context.Context, drv Driver) error
}

// Tier pairs a strategy with its attempt budget. The loop exhausts tier
// K's budget before trying tier K+1.
type Tier struct {
	Strategy Strategy
	Attempts int
}

// DefaultChain is the standard escalation order: the reader's own control
// first (cheap, non-disruptive), a naturalistic input sequence when
// synthetic clicks are filtered, and a surface reload as the last resort
// for wedged reader state.
func DefaultChain() []Tier {
	return []Tier{
		{Strategy: NextControl{}, Attempts: 2},
		{Strategy: NaturalInput{}, Attempts: 2},
		{Strategy: SurfaceReload{}, Attempts: 1},
	}
}

// NextControl clicks the reader's next-page control through whatever
// selector currently matches; DOM structure varies by document edition.
type NextControl struct{}

func (NextControl) ID() string { return "next-control" }

func (NextControl) Attempt(ctx context.Context, drv Driver) error {
	return drv.ClickNext(ctx)
}

// NaturalInput simulates a pointer path, a click and a forward key press.
// Some readers filter trivially synthetic signals; naturalistic sequences
// usually pass.
type NaturalInput struct{}

func (NaturalInput) ID() string { return "natural-input" }

func (NaturalInput) Attempt(ctx context.Context, drv Driver) error {
	return drv.NaturalAdvance(ctx)
}

// SurfaceReload force-reloads the embedded rendering surface. Internal
// reader state can wedge in ways no input event escapes; only a reload
// recovers it.
type SurfaceReload struct{}

func (SurfaceReload) ID() string { return "surface-reload" }

func (SurfaceReload) Attempt(ctx context.Context, drv Driver) error {
	return drv.ReloadSurface(ctx)
}
