// Package ratelimit implements the randomized pacing policy that keeps
// the scraper from bursting requests at a single store's servers.
//
// Two independent throttles exist: DomainPacer computes the wait before a
// target begins (only same-domain repetition is throttled; switching
// servers costs nothing), and ClickPacer applies a shorter randomized
// delay before individual UI interactions during an extraction.
package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Range bounds a uniformly sampled delay.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Sample draws a duration from the range using unit, a value in [0,1).
func (r Range) Sample(unit float64) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(unit*float64(r.Max-r.Min))
}

// SampleFunc supplies uniform random values in [0,1). Injectable so tests
// can fix the sampled delay.
type SampleFunc func() float64

// DomainPacer computes the inter-target wait. The sampled delay is
// measured against the session's last activity so time already elapsed is
// credited and the pacer never double-waits.
type DomainPacer struct {
	rng    Range
	sample SampleFunc
}

// NewDomainPacer builds a pacer over the given delay range. A nil sample
// falls back to math/rand.
func NewDomainPacer(rng Range, sample SampleFunc) *DomainPacer {
	if sample == nil {
		sample = rand.Float64
	}
	return &DomainPacer{rng: rng, sample: sample}
}

// DelayBefore returns how long to wait before processing a target on
// nextDomain, given the previous target's domain and the next domain
// session's last activity at time now.
func (p *DomainPacer) DelayBefore(prevDomain, nextDomain string, lastActivity, now time.Time) time.Duration {
	if prevDomain == "" || prevDomain != nextDomain {
		return 0
	}
	want := p.rng.Sample(p.sample())
	if lastActivity.IsZero() {
		return want
	}
	elapsed := now.Sub(lastActivity)
	if elapsed >= want {
		return 0
	}
	return want - elapsed
}

// ClickPacer applies a randomized short delay before a UI interaction.
// Extractors hold one and call Wait before clicks and page turns.
type ClickPacer struct {
	rng    Range
	sample SampleFunc
	pauser Pauser
}

// NewClickPacer builds an interaction pacer. Nil sample or pauser fall
// back to math/rand and a timer pauser.
func NewClickPacer(rng Range, sample SampleFunc, pauser Pauser) *ClickPacer {
	if sample == nil {
		sample = rand.Float64
	}
	if pauser == nil {
		pauser = &TimerPauser{}
	}
	return &ClickPacer{rng: rng, sample: sample, pauser: pauser}
}

// Wait suspends for a freshly sampled delay, returning early if the
// context finishes.
func (p *ClickPacer) Wait(ctx context.Context) {
	p.pauser.Pause(ctx, p.rng.Sample(p.sample()))
}

// Pauser suspends the caller for a duration.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

// TimerPauser blocks on a timer, waking early on context cancellation.
type TimerPauser struct{}

// Pause implements Pauser.
func (TimerPauser) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
