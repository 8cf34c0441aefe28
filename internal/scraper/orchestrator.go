package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Orchestrator sequences a scrape run: it pulls targets in serial order,
// resolves extractor and session, applies rate limiting, invokes
// extraction and records the outcome. Targets are processed strictly one
// at a time; a single target's failure never aborts the run.
type Orchestrator struct {
	registry Registry
	pool     SessionPool
	pacer    Pacer
	pauser   Pauser
	results  *ResultLogger
	clock    Clock
	logger   *zap.Logger
	runID    string

	mu       sync.Mutex
	progress Progress
}

// NewOrchestrator wires an Orchestrator. All collaborators are required
// except logger, which defaults to a no-op.
func NewOrchestrator(
	registry Registry,
	pool SessionPool,
	pacer Pacer,
	pauser Pauser,
	results *ResultLogger,
	clock Clock,
	runID string,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		pool:     pool,
		pacer:    pacer,
		pauser:   pauser,
		results:  results,
		clock:    clock,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
	}
}

// Progress returns a snapshot of the run counters for external display.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Run processes every target in serial order. It returns a non-nil error
// only for run-fatal conditions: a dead browsing engine, a permanently
// unreachable record store, or context cancellation (checked between
// targets, never mid-extraction). Sessions are released on every exit
// path.
func (o *Orchestrator) Run(ctx context.Context, targets []Target) (RunSummary, error) {
	summary := RunSummary{
		RunID:     o.runID,
		StartedAt: o.clock.Now(),
		Total:     len(targets),
	}
	defer func() {
		o.pool.ReleaseAll()
	}()

	sort.Slice(targets, func(i, j int) bool { return targets[i].Serial < targets[j].Serial })

	o.setProgress(Progress{Total: len(targets), Remaining: len(targets)})
	o.logger.Info("run started", zap.Int("targets", len(targets)))

	var (
		prevDomain  string
		deadDomains = make(map[string]string)
	)

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			summary.Interrupted = true
			o.logger.Warn("run interrupted",
				zap.Int64("next_serial", target.Serial),
				zap.Int("remaining", len(targets)-i))
			break
		}

		log := o.logger.With(
			zap.Int64("serial", target.Serial),
			zap.String("domain", target.Domain),
			zap.String("url", target.URL))

		extractor, ok := o.registry.Resolve(target.Domain, target.Category)
		if !ok {
			log.Error("no extractor registered")
			o.finishTarget(ctx, &summary, target,
				FailureOutcome(KindUnsupportedDomain,
					fmt.Sprintf("no extractor registered for %s/%s", target.Domain, target.Category)))
			continue
		}

		if reason, dead := deadDomains[target.Domain]; dead {
			log.Warn("domain session unavailable, short-circuiting")
			o.finishTarget(ctx, &summary, target,
				FailureOutcome(KindSessionUnavailable, reason))
			continue
		}

		sess, err := o.pool.Acquire(ctx, target.Domain)
		if err != nil {
			switch {
			case errors.Is(err, ErrBrowserUnavailable):
				o.finishTarget(ctx, &summary, target,
					FailureOutcome(KindSessionUnavailable, err.Error()))
				return o.finalize(summary), fmt.Errorf("browsing engine lost: %w", err)
			case errors.Is(err, ErrSessionUnavailable):
				log.Error("session creation exhausted", zap.Error(err))
				deadDomains[target.Domain] = err.Error()
				o.finishTarget(ctx, &summary, target,
					FailureOutcome(KindSessionUnavailable, err.Error()))
				continue
			case ctx.Err() != nil:
				summary.Interrupted = true
			default:
				log.Error("session acquire failed", zap.Error(err))
				o.finishTarget(ctx, &summary, target,
					FailureOutcome(KindSessionUnavailable, err.Error()))
				continue
			}
			break
		}

		delay := o.pacer.DelayBefore(prevDomain, target.Domain, sess.LastActivity(), o.clock.Now())
		PaceDelay.WithLabelValues(target.Domain).Observe(delay.Seconds())
		if delay > 0 {
			log.Info("pacing before target", zap.Duration("delay", delay))
			o.pauser.Pause(ctx, delay)
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
		}

		// PENDING goes out before the attempt so an interrupted run can
		// be audited and replayed. A store that cannot take this write
		// is fatal to the run.
		if err := o.results.Log(ctx, o.record(target, Outcome{}, StatusPending)); err != nil {
			return o.finalize(summary), fmt.Errorf("record store unreachable: %w", err)
		}

		summary.Attempted++
		TargetsAttempted.WithLabelValues(target.Domain).Inc()

		started := o.clock.Now()
		outcome := safeExtract(ctx, extractor, sess, target)
		sess.Touch(o.clock.Now())
		ExtractionDuration.WithLabelValues(target.Domain).Observe(o.clock.Now().Sub(started).Seconds())

		o.recordOutcome(ctx, &summary, target, outcome, log)
		prevDomain = target.Domain

		o.setProgress(Progress{
			Total:     len(targets),
			Attempted: summary.Attempted,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Remaining: len(targets) - i - 1,
		})
		log.Info("progress",
			zap.Int("attempted", summary.Attempted),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("remaining", len(targets)-i-1))
	}

	summary = o.finalize(summary)
	if summary.Interrupted {
		return summary, ctx.Err()
	}
	return summary, nil
}

// finishTarget records a terminal failure for a target that never reached
// extraction (unsupported domain, dead session). One terminal record per
// target, keyed by serial.
func (o *Orchestrator) finishTarget(ctx context.Context, summary *RunSummary, target Target, outcome Outcome) {
	summary.Attempted++
	summary.Failed++
	TargetsAttempted.WithLabelValues(target.Domain).Inc()
	TargetsFailed.WithLabelValues(target.Domain, string(outcome.ErrKind)).Inc()

	if err := o.results.Log(ctx, o.record(target, outcome, StatusFail)); err != nil {
		o.logger.Error("result write lost",
			zap.Int64("serial", target.Serial), zap.Error(err))
	}
	o.bumpProgress(func(p *Progress) {
		p.Attempted++
		p.Failed++
		if p.Remaining > 0 {
			p.Remaining--
		}
	})
}

// recordOutcome converts the extraction outcome into a terminal result
// and persists it. Terminal writes are best effort: a lost write is
// logged and the run continues.
func (o *Orchestrator) recordOutcome(ctx context.Context, summary *RunSummary, target Target, outcome Outcome, log *zap.Logger) {
	var status Status
	if outcome.OK() {
		status = StatusSuccess
		summary.Succeeded++
		TargetsSucceeded.WithLabelValues(target.Domain).Inc()
		ProductsFound.WithLabelValues(target.Domain).Add(float64(outcome.ProductsFound))
		log.Info("target scraped",
			zap.Int("products_found", outcome.ProductsFound),
			zap.Int("pages_scraped", outcome.PagesScraped))
	} else {
		status = StatusFail
		summary.Failed++
		TargetsFailed.WithLabelValues(target.Domain, string(outcome.ErrKind)).Inc()
		log.Error("target failed",
			zap.String("kind", string(outcome.ErrKind)),
			zap.String("cause", outcome.ErrMessage))
	}

	if err := o.results.Log(ctx, o.record(target, outcome, status)); err != nil {
		log.Error("result write lost", zap.Error(err))
	}
}

func (o *Orchestrator) record(target Target, outcome Outcome, status Status) RunResult {
	r := RunResult{
		Serial:        target.Serial,
		Domain:        target.Domain,
		Category:      target.Category,
		URL:           target.URL,
		Status:        status,
		ScrapedAt:     o.clock.Now(),
		ProductsFound: outcome.ProductsFound,
		PagesScraped:  outcome.PagesScraped,
	}
	if status == StatusFail {
		r.ErrorMessage = outcome.ErrMessage
		if r.ErrorMessage == "" {
			r.ErrorMessage = string(outcome.ErrKind)
		}
	}
	return r
}

func (o *Orchestrator) finalize(summary RunSummary) RunSummary {
	summary.FinishedAt = o.clock.Now()
	o.logger.Info("run finished",
		zap.Int("total", summary.Total),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Float64("success_rate", summary.SuccessRate()),
		zap.Bool("interrupted", summary.Interrupted))
	return summary
}

func (o *Orchestrator) setProgress(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = p
}

func (o *Orchestrator) bumpProgress(fn func(*Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.progress)
}

// safeExtract shields the run from a panicking extractor; the panic is
// converted into a failed outcome for that target only.
func safeExtract(ctx context.Context, extractor Extractor, sess Session, target Target) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = FailureOutcome(KindStructureChanged, fmt.Sprintf("extractor panic: %v", r))
		}
	}()
	return extractor.Extract(ctx, sess, target)
}
