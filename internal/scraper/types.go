// Package scraper defines the core types and interfaces for the grocery
// price scraping engine: targets, run results, the extraction contract,
// and the orchestrator that sequences a run.
package scraper

import "time"

// Status represents the lifecycle state of a target's scrape attempt,
// as persisted in the scrape log.
type Status string

// Scrape status values written to the record store. PENDING is written
// before an attempt begins so an interrupted run can be audited and
// resumed; it is overwritten with a terminal status when the attempt ends.
const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
)

// Target is one unit of scrape work, loaded from the record store at run
// start and never mutated during the run. Serial defines total processing
// order.
type Target struct {
	Serial   int64
	Domain   string
	Category string
	URL      string
}

// RunResult is the outcome record persisted for one Target, keyed by
// Serial. Re-running a target overwrites its record rather than creating
// a duplicate.
type RunResult struct {
	Serial        int64
	Domain        string
	Category      string
	URL           string
	Status        Status
	ScrapedAt     time.Time
	ProductsFound int
	PagesScraped  int
	ErrorMessage  string
}

// ErrorKind classifies why a target failed. Target-level kinds never
// abort the run; SessionUnavailable marks a domain whose browsing session
// could not be created after retries.
type ErrorKind string

// Error kinds recorded on failed targets.
const (
	KindTimeout            ErrorKind = "timeout"
	KindStructureChanged   ErrorKind = "structure_changed"
	KindValidationFailed   ErrorKind = "validation_failed"
	KindNetwork            ErrorKind = "network"
	KindUnsupported        ErrorKind = "unsupported"
	KindUnsupportedDomain  ErrorKind = "unsupported_domain"
	KindSessionUnavailable ErrorKind = "session_unavailable"
)

// Outcome is what an Extractor reports back for one target. A zero
// ErrKind means success. PagesScraped and ProductsFound may carry partial
// counts on failure.
type Outcome struct {
	ProductsFound int
	PagesScraped  int
	ErrKind       ErrorKind
	ErrMessage    string
}

// OK reports whether the extraction succeeded.
func (o Outcome) OK() bool {
	return o.ErrKind == ""
}

// SuccessOutcome builds a successful Outcome.
func SuccessOutcome(productsFound, pagesScraped int) Outcome {
	return Outcome{ProductsFound: productsFound, PagesScraped: pagesScraped}
}

// FailureOutcome builds a failed Outcome with the given kind and message.
func FailureOutcome(kind ErrorKind, message string) Outcome {
	return Outcome{ErrKind: kind, ErrMessage: message}
}

// CapturedResponse is one network response observed on a session while a
// capture is active. Body is the decoded response payload.
type CapturedResponse struct {
	URL    string
	Status int
	Body   []byte
}

// Progress is a point-in-time view of run counters, exposed for external
// display while the run proceeds.
type Progress struct {
	Total     int
	Attempted int
	Succeeded int
	Failed    int
	Remaining int
}

// RunSummary describes a completed (or interrupted) run.
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Attempted   int
	Succeeded   int
	Failed      int
	Interrupted bool
}

// SuccessRate returns the percentage of attempted targets that succeeded.
func (s RunSummary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted) * 100
}
