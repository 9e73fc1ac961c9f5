package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scan runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			noBanner = true
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Recorder.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tMODE\tAS OF\tPROCESSED\tFAILED\tEXCLUDED\tMATCHED\tRUN")
			for _, r := range runs {
				asOf := "-"
				if r.AsOf != nil {
					asOf = r.AsOf.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mode, asOf,
					r.Processed, r.Failed, r.Excluded, r.Matched, r.RunID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
