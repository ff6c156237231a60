package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Query the saved documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp := appInstance.Search(cmd.Context(), strings.Join(args, " "))
			results := resp.Results
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}
			if resp.Err != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				resp.Results = results
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tDOC\tURL")
			for _, r := range results {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", r.Score, r.DocID, r.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results to print (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if limit < 0 {
			return errors.New("--limit must be >= 0")
		}
		return nil
	}
	return cmd
}
