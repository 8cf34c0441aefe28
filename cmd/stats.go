package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mowaffer/grocery-scraper/internal/config"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
	"github.com/mowaffer/grocery-scraper/internal/store/postgres"
)

// newStatsCmd creates the 'stats' subcommand, which prints the scrape
// log status breakdown without touching any website.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints scrape log status counts",
		RunE:  runStatsCommand,
	}
}

func runStatsCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store, err := postgres.New(cmd.Context(), cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect record store: %w", err)
	}
	defer store.Close()

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("count by status: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	cmd.Printf("pending: %d\n", counts[scraper.StatusPending])
	cmd.Printf("success: %d\n", counts[scraper.StatusSuccess])
	cmd.Printf("fail:    %d\n", counts[scraper.StatusFail])
	cmd.Printf("total:   %d\n", total)
	return nil
}
