// Package cmd defines and implements the CLI commands for the
// grocery-scraper executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grocery-scraper",
		Short: "Browser-driven grocery price scraper",
		Long: `grocery-scraper walks the queue of category URLs in the record
store, drives a headless browser through each supported grocery site,
and writes one scrape outcome per target back to the store. Targets are
processed strictly in serial order with randomized politeness delays
between same-domain requests.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
