package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/models"
)

func exclusionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "Inspect and extend the permanent exclusion list",
	}

	var source string
	list := &cobra.Command{
		Use:   "list",
		Short: "List seeded and stored exclusions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []models.ExclusionEntry
			if source != "" {
				entries, err = a.Exclusions.EntriesBySource(cmd.Context(), source)
			} else {
				entries, err = a.Exclusions.Entries(cmd.Context())
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TICKER\tSOURCE\tADDED\tREASON")
			for _, e := range entries {
				added := "-"
				if !e.AddedAt.IsZero() {
					added = e.AddedAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Ticker, e.Source, added, e.Reason)
			}
			return w.Flush()
		},
	}

	list.Flags().StringVar(&source, "source", "", "Only list entries from this source (seed, verification, manual)")

	show := &cobra.Command{
		Use:   "show TICKER",
		Short: "Show why an instrument is excluded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Exclusions.Lookup(cmd.Context(), args[0])
			if errors.Is(err, models.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not excluded\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s excluded by %s: %s\n", e.Ticker, e.Source, e.Reason)
			return nil
		},
	}

	var reason string
	add := &cobra.Command{
		Use:   "add TICKER...",
		Short: "Exclude instruments from all future runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := a.Exclusions.Normalize(args)
			n, err := a.Exclusions.RecordPermanent(cmd.Context(), models.ExclusionSourceManual, reason, ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d\n", n, len(ids))
			return nil
		},
	}
	add.Flags().StringVar(&reason, "reason", "manual", "Reason stored with the entries")

	imp := &cobra.Command{
		Use:   "import REPORT",
		Short: "Import the missing instruments of a verification report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.ImportVerificationReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, show, add, imp)
	return cmd
}
