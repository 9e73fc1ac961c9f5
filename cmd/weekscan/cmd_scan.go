package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/services/report"
)

func scanCmd() *cobra.Command {
	var (
		uf       universeFlags
		asOf     string
		relaxed  bool
		output   string
		workers  int
		bucket   string
		noMA     bool
		noEngulf bool
		top      int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the universe for bullish engulfing candles above the moving average",
		RunE: func(cmd *cobra.Command, args []string) error {
			uf.apply(cmd, &config.Universe)
			flags := cmd.Flags()
			if flags.Changed("as-of") {
				config.Scan.AsOf = asOf
			}
			if flags.Changed("relaxed") {
				config.Scan.RelaxedEngulfing = relaxed
			}
			if flags.Changed("output") {
				config.Scan.Output = output
			}
			if flags.Changed("workers") {
				config.Scan.Workers = workers
				config.Scan.AsOfWorkers = workers
			}
			if flags.Changed("bucket") {
				config.Scan.Bucket = bucket
			}
			if noMA {
				config.Scan.RequireMA = false
			}
			if noEngulf {
				config.Scan.RequireEngulfing = false
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.RunScan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Summary(result, top))
			return nil
		},
	}
	uf.register(cmd)
	cmd.Flags().StringVar(&asOf, "as-of", "", "Only use bars on or before this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&relaxed, "relaxed", false, "Also accept a close at or above the previous open")
	cmd.Flags().StringVar(&output, "output", "", "Result CSV path (empty disables the file)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Instruments evaluated concurrently")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Candle period: weekly or monthly")
	cmd.Flags().BoolVar(&noMA, "no-ma", false, "Do not require the close to be above the moving average")
	cmd.Flags().BoolVar(&noEngulf, "no-engulfing", false, "Do not require an engulfing candle")
	cmd.Flags().IntVar(&top, "top", 30, "Matches listed in the summary (0 lists all)")
	return cmd
}
