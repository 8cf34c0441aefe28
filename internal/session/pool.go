// Package session manages long-lived browsing sessions, one per store
// domain. Sessions are created lazily on first acquire, reused across all
// targets sharing the domain, and closed together at run end.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// Opener creates a fresh browsing session scoped to one domain.
type Opener interface {
	Open(ctx context.Context, domain string) (scraper.Session, error)
}

// PoolConfig controls session-creation retry behavior.
type PoolConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// Pool implements scraper.SessionPool. At most one live session exists
// per domain at any time; Acquire is the only way to reach a session and
// ReleaseAll the only way to discard them, so ownership stays with the
// pool on every exit path.
type Pool struct {
	opener Opener
	cfg    PoolConfig
	pauser ratelimit.Pauser
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]scraper.Session
	released bool
}

// NewPool builds a Pool over the given opener.
func NewPool(opener Opener, cfg PoolConfig, pauser ratelimit.Pauser, logger *zap.Logger) *Pool {
	if pauser == nil {
		pauser = ratelimit.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		opener:   opener,
		cfg:      cfg.withDefaults(),
		pauser:   pauser,
		logger:   logger,
		sessions: make(map[string]scraper.Session),
	}
}

// Acquire returns the live session for domain, creating one if needed.
// Creation failures are retried with jittered backoff; exhaustion returns
// an error wrapping scraper.ErrSessionUnavailable. A dead browsing engine
// surfaces as scraper.ErrBrowserUnavailable without retries.
func (p *Pool) Acquire(ctx context.Context, domain string) (scraper.Session, error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil, fmt.Errorf("acquire %q: pool released", domain)
	}
	if sess, ok := p.sessions[domain]; ok {
		p.mu.Unlock()
		p.logger.Debug("reusing session", zap.String("domain", domain))
		return sess, nil
	}
	p.mu.Unlock()

	sess, err := p.open(ctx, domain)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		closeSession(sess)
		return nil, fmt.Errorf("acquire %q: pool released", domain)
	}
	if existing, ok := p.sessions[domain]; ok {
		// Lost a race with another acquire for the same domain.
		closeSession(sess)
		return existing, nil
	}
	p.sessions[domain] = sess
	return sess, nil
}

func (p *Pool) open(ctx context.Context, domain string) (scraper.Session, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("open session for %q: %w", domain, err)
		}
		if attempt > 0 {
			delay := p.backoff(attempt)
			p.logger.Warn("retrying session creation",
				zap.String("domain", domain),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			p.pauser.Pause(ctx, delay)
		}

		sess, err := p.opener.Open(ctx, domain)
		if err == nil {
			p.logger.Info("session created", zap.String("domain", domain))
			return sess, nil
		}
		if isFatal(err) {
			return nil, fmt.Errorf("open session for %q: %w", domain, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: domain %q after %d attempts: %v",
		scraper.ErrSessionUnavailable, domain, p.cfg.MaxAttempts, lastErr)
}

// ReleaseAll closes every live session. Safe to call once at orderly run
// termination, including on early abort; later calls are no-ops.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	for domain, sess := range p.sessions {
		closeSession(sess)
		p.logger.Info("session released", zap.String("domain", domain))
	}
	p.sessions = make(map[string]scraper.Session)
}

// ActiveDomains lists the domains with a live session.
func (p *Pool) ActiveDomains() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sessions))
	for domain := range p.sessions {
		out = append(out, domain)
	}
	return out
}

func (p *Pool) backoff(attempt int) time.Duration {
	delay := float64(p.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.cfg.BackoffMax) {
		delay = float64(p.cfg.BackoffMax)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, scraper.ErrBrowserUnavailable)
}

func closeSession(sess scraper.Session) {
	if c, ok := sess.(interface{ Close() }); ok {
		c.Close()
	}
}
