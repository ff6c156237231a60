package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newIndexStatsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "index-stats",
		Short: "Print crawl state and index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			svc := appInstance.SearchService()
			if err := svc.Load(cmd.Context()); err != nil {
				return fmt.Errorf("load index: %w", err)
			}
			status, err := appInstance.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "documents:      %d\n", status.IndexStats.Documents)
			fmt.Fprintf(out, "terms:          %d\n", status.IndexStats.Terms)
			fmt.Fprintf(out, "next doc id:    %d\n", status.NextDocID)
			fmt.Fprintf(out, "visited urls:   %d\n", status.Visited)
			fmt.Fprintf(out, "content hashes: %d\n", status.Hashes)
			if status.IndexStats.LoadError != "" {
				fmt.Fprintf(out, "load error:     %s\n", status.IndexStats.LoadError)
			}
			if top <= 0 {
				return nil
			}
			idx := svc.Index()
			if idx == nil {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TERM\tDOCUMENTS")
			for _, ts := range idx.TopTerms(top) {
				fmt.Fprintf(tw, "%s\t%d\n", ts.Term, ts.Documents)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of most common terms to list")
	return cmd
}
