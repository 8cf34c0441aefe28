package scraper

import (
	"context"
	"errors"
	"net"
)

// ErrSessionUnavailable is returned by the session pool when a domain's
// session could not be created after exhausting retries. The domain's
// remaining targets are failed; the run continues with other domains.
var ErrSessionUnavailable = errors.New("session unavailable")

// ErrBrowserUnavailable indicates the browsing engine itself is gone.
// This is fatal to the run.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// KindForError maps an infrastructure error seen during extraction to a
// target-level error kind.
func KindForError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindStructureChanged
}
