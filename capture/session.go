package capture

import "time"

// Status is the lifecycle state of a capture session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Session is a point-in-time snapshot of one capture session. The engine
// owns the mutable state; callers only ever see copies.
type Session struct {
	ID        string `json:"session_id"`
	TargetURL string `json:"target_url"`

	// MaxPages is the page budget. 0 means auto-detect: the session runs
	// until the reader signals end of document, at which point MaxPages is
	// resolved retroactively to the final page index.
	MaxPages int `json:"max_pages"`

	// CurrentPage is the index of the last recorded page, 1-based.
	// Monotonic non-decreasing, never skipped.
	CurrentPage int    `json:"current_page"`
	Status      Status `json:"status"`

	// DuplicateRun is the number of consecutive captures sharing one
	// fingerprint, including the first. It resets to 1 whenever the
	// fingerprint changes; the session aborts when it reaches the
	// configured threshold.
	DuplicateRun int `json:"duplicate_run"`

	FailureKind Kind   `json:"failure_kind,omitempty"`
	Reason      string `json:"reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Snapshot is what the driver captured in one observation of the reader.
type Snapshot struct {
	// HTML is the serialized DOM of the rendered document surface, the
	// input to fingerprinting.
	HTML []byte
	// Image is the PNG screenshot handed downstream for text extraction.
	Image []byte
	// AtEnd is the reader's own end-of-document signal, when detectable.
	AtEnd bool
}

// PageCapture is one accepted page, emitted in strictly increasing
// PageIndex order, gap-free up to termination.
type PageCapture struct {
	SessionID   string
	PageIndex   int
	Image       []byte
	Fingerprint string
	CapturedAt  time.Time

	// Strategy is the advance strategy that reached this page; empty for
	// the first page. Attempts is the number of advance attempts spent.
	Strategy string
	Attempts int
}
