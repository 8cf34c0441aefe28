package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/api"
	"github.com/mowaffer/grocery-scraper/internal/archive"
	"github.com/mowaffer/grocery-scraper/internal/clock/system"
	"github.com/mowaffer/grocery-scraper/internal/config"
	"github.com/mowaffer/grocery-scraper/internal/extractor/oscar"
	"github.com/mowaffer/grocery-scraper/internal/extractor/seoudi"
	"github.com/mowaffer/grocery-scraper/internal/id/uuid"
	"github.com/mowaffer/grocery-scraper/internal/logging"
	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/registry"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
	"github.com/mowaffer/grocery-scraper/internal/session"
	"github.com/mowaffer/grocery-scraper/internal/store/postgres"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs one full pass
// over the target queue.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape pass over the target queue",
		Long: `Loads every target from the record store, ordered by serial, and
scrapes them one at a time. A long-lived browser session is kept per
domain; same-domain targets are separated by a randomized delay.
Interrupting the process stops cleanly between targets.`,
		RunE: runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect record store: %w", err)
	}
	defer store.Close()

	browser, err := session.NewBrowser(ctx, cfg.BrowserOptions(), logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer browser.Close()

	pauser := &ratelimit.TimerPauser{}
	pool := session.NewPool(browser, cfg.PoolConfig(), pauser, logger)
	pacer := ratelimit.NewDomainPacer(cfg.URLDelayRange(), nil)
	clicks := ratelimit.NewClickPacer(cfg.ClickDelayRange(), nil, pauser)

	var sink *archive.Archive
	if cfg.Archive.Enabled {
		sink, err = archive.New(cfg.Archive.Dir)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
	}

	reg := buildRegistry(cfg, clicks, sink, logger)
	results := scraper.NewResultLogger(store, pauser, cfg.ResultLogConfig(), logger)

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	targets, err := store.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	logger.Info("scrape run starting",
		zap.String("run_id", runID),
		zap.Int("targets", len(targets)),
		zap.Strings("domains", reg.Domains()))

	orch := scraper.NewOrchestrator(reg, pool, pacer, pauser, results, system.New(), runID, logger)

	if cfg.Metrics.Enabled {
		ops := api.NewServer(runID, orch.Progress, logger)
		ops.Serve(ctx, cfg.Metrics.Port)
	}

	summary, runErr := orch.Run(ctx, targets)

	logger.Info("scrape run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Float64("success_rate_pct", summary.SuccessRate()),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))

	logStatusCounts(store, logger)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("scrape run: %w", runErr)
	}
	return nil
}

// buildRegistry maps the supported grocery domains to their extractors.
// Spinneys is registered without an extractor so its targets fail as
// unsupported rather than unknown.
func buildRegistry(cfg config.Config, clicks *ratelimit.ClickPacer, sink *archive.Archive, logger *zap.Logger) *registry.Registry {
	return registry.New(
		registry.Rule{
			DomainPattern: "oscarstores.com",
			Extractor: oscar.New(clicks, oscar.Config{
				MaxPages:       cfg.Oscar.MaxPages,
				CountTolerance: cfg.Oscar.CountTolerance,
			}, logger),
		},
		registry.Rule{
			DomainPattern: "seoudisupermarket.com",
			Extractor: seoudi.New(clicks, sink, seoudi.Config{
				MaxLoadMoreClicks: cfg.Seoudi.MaxLoadMoreClicks,
				MinPayloadBytes:   cfg.Seoudi.MinPayloadBytes,
			}, logger),
		},
		registry.Rule{DomainPattern: "spinneys.com"},
	)
}

func logStatusCounts(store *postgres.Store, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		logger.Warn("status counts unavailable", zap.Error(err))
		return
	}
	logger.Info("record store status counts",
		zap.Int("pending", counts[scraper.StatusPending]),
		zap.Int("success", counts[scraper.StatusSuccess]),
		zap.Int("fail", counts[scraper.StatusFail]))
}
