// Package cmd defines the CLI commands for the topicsearch executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl over the configured seeds",
		Long: `Crawls every configured seed breadth-first and saves pages that pass
the topic filter. Without --force the crawl is skipped when documents already
exist; URLs visited by earlier runs are never fetched again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Crawl(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", res.RunID, err)
			}
			s := res.Summary
			fmt.Fprintf(cmd.OutOrStdout(),
				"run %s %s: saved=%d fetched=%d failures=%d rejected=%d skipped=%d budget_reached=%t duration=%s\n",
				res.RunID, res.Status, s.Saved, s.Fetched, s.FetchFailures, s.Rejected, s.Skipped, s.BudgetReached, s.Duration,
			)
			appInstance.Logger().Info("crawl command finished", zap.String("run_id", res.RunID))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "crawl even when documents already exist")
	return cmd
}
