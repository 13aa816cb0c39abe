package capture

import (
	"errors"
	"fmt"
)

// Kind is the closed set of terminal outcomes a session can surface.
// Internal single-attempt failures are retry fodder and never appear here.
type Kind string

const (
	// KindSessionInit: the automation session could not be established.
	KindSessionInit Kind = "session_init"
	// KindAdvanceExhausted: no strategy tier produced a visible change for
	// one page after all configured attempts ("stuck").
	KindAdvanceExhausted Kind = "advance_exhausted"
	// KindDuplicateThreshold: consecutive captures kept the same fingerprint
	// despite apparently successful advances.
	KindDuplicateThreshold Kind = "duplicate_threshold"
	// KindDriverFatal: the automation session itself died.
	KindDriverFatal Kind = "driver_fatal"
	// KindAborted: cooperative external stop. A normal terminal state.
	KindAborted Kind = "aborted"
)

// ErrNoEffect is reported by a driver advance action that executed but had
// nothing to act on (control missing, input filtered). Retryable.
var ErrNoEffect = errors.New("capture: advance action had no effect")

// ErrUnknownSession is returned for session IDs the manager does not track.
var ErrUnknownSession = errors.New("capture: unknown session")

// FatalError marks a driver failure the loop must not retry: the browser
// tab or connection is gone. Drivers wrap their own errors in this type.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("capture: driver fatal during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TerminalError is the classified end state of a failed or aborted session,
// carrying the diagnostic context the job store receives.
type TerminalError struct {
	Kind      Kind
	PageIndex int             // last page recorded before termination
	Attempts  []AdvanceAttempt // advance attempts for the page being worked
	Tier      string          // deepest strategy tier reached
	Err       error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s at page %d: %v", e.Kind, e.PageIndex, e.Err)
	}
	return fmt.Sprintf("capture: %s at page %d", e.Kind, e.PageIndex)
}

func (e *TerminalError) Unwrap() error { return e.Err }
