package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/models"
)

func verifyCmd() *cobra.Command {
	var (
		input      string
		output     string
		importMiss bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether failed instruments exist at the provider",
		Long: `Reads a failure report (any text containing ids like 7203.T) or a ticker
list, queries the provider with a short history window per instrument and
writes ticker,exists,rows,elapsed_s,note. With --import the instruments
reported as missing become permanent exclusions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("output") {
				config.Exclusions.VerificationReport = output
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.RunVerify(cmd.Context(), input, importMiss)
			if err != nil {
				return err
			}
			counts := map[string]int{}
			for _, r := range records {
				counts[r.Exists]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d: %d exist, %d missing, %d unknown\n",
				len(records), counts[models.ExistsYes], counts[models.ExistsNo], counts[models.ExistsUnknown])
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Failure report or ticker list")
	cmd.Flags().StringVar(&output, "output", "", "Verification report path")
	cmd.Flags().BoolVar(&importMiss, "import", false, "Add missing instruments to the exclusion store")
	cmd.MarkFlagRequired("input")
	return cmd
}
