package scraper

import (
	"context"
	"time"
)

// Extractor performs the domain-specific navigation and data extraction
// for one target, using the session it is handed. Failures are reported
// in the Outcome, never as a panic or an unrecorded error.
type Extractor interface {
	Extract(ctx context.Context, sess Session, target Target) Outcome
}

// Registry resolves the extractor responsible for a (domain, category)
// pair. Populated once at startup; no runtime mutation.
type Registry interface {
	Resolve(domain, category string) (Extractor, bool)
}

// ResponseCapture collects network responses observed on a session until
// stopped. Responses drains everything collected so far.
type ResponseCapture interface {
	Responses() []CapturedResponse
	Stop()
}

// Session is a long-lived browsing context bound to one domain. Sessions
// are exclusively owned by the session pool and used by one target at a
// time.
type Session interface {
	Domain() string

	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	ScrollToBottom(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)

	// QueryText reads the text of the first node matching selector
	// without waiting for it to appear. found is false when no node
	// matches right now.
	QueryText(ctx context.Context, selector string) (text string, found bool, err error)

	// CaptureResponses starts observing network responses whose URL
	// contains urlFragment.
	CaptureResponses(urlFragment string) ResponseCapture

	// LastActivity is the completion time of the most recent request on
	// this session, zero if the session has never been used. It is the
	// sole input to the same-domain delay decision.
	LastActivity() time.Time

	// Touch records request activity at the given time.
	Touch(at time.Time)
}

// SessionPool manages one live session per domain, created lazily and
// reused across all targets sharing that domain. ReleaseAll closes every
// session and is called exactly once at run termination.
type SessionPool interface {
	Acquire(ctx context.Context, domain string) (Session, error)
	ReleaseAll()
}

// Pacer decides how long to wait before a target begins, given the domain
// of the previous target and the session's last activity. Switching
// domains costs nothing; same-domain repetition is throttled.
type Pacer interface {
	DelayBefore(prevDomain, nextDomain string, lastActivity, now time.Time) time.Duration
}

// Pauser suspends the caller for a duration, returning early when the
// context finishes.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

// TargetStore reads the scrape queue from the record store, ordered by
// serial ascending.
type TargetStore interface {
	ListTargets(ctx context.Context) ([]Target, error)
}

// ResultStore persists one RunResult per target, keyed by serial. Upsert
// semantics: a re-run overwrites the prior record.
type ResultStore interface {
	UpsertResult(ctx context.Context, result RunResult) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
