package capture

import "context"

// Driver is the automation handle the Capture Loop owns exclusively for
// the session's lifetime. One session, one driver; teardown happens
// exactly once, inside the terminal-state handler.
//
// Advance actions report three ways: nil means the action was performed
// (whether the content actually changed is decided by the next capture's
// fingerprint), ErrNoEffect means there was nothing to act on and the
// loop may escalate, and any other error (conventionally a *FatalError)
// means the session is dead.
type Driver interface {
	// Snapshot observes the reader: serialized DOM, screenshot, and the
	// end-of-document signal when the reader exposes one.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// ClickNext invokes the reader's own next-page control.
	ClickNext(ctx context.Context) error

	// NaturalAdvance simulates a realistic pointer-move, click and
	// directional-key sequence.
	NaturalAdvance(ctx context.Context) error

	// ReloadSurface force-reloads the embedded rendering surface.
	ReloadSurface(ctx context.Context) error

	// Close tears the session down. Idempotent.
	Close() error
}

// DriverFactory establishes a new automation session against a target
// document. Failures map to the session_init terminal kind. The auth
// precondition, a browser profile already signed in to the content
// provider, is assumed satisfied before the factory is called.
type DriverFactory func(ctx context.Context, targetURL string) (Driver, error)
