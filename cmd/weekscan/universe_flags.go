package main

import (
	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/common"
)

// universeFlags override the [universe] section when set
type universeFlags struct {
	start       int
	end         int
	tickers     []string
	tickersFile string
	fromCache   bool
	minCode     int
}

func (f *universeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.start, "start", 0, "First numeric code of the range")
	cmd.Flags().IntVar(&f.end, "end", 0, "Last numeric code of the range (inclusive)")
	cmd.Flags().StringSliceVar(&f.tickers, "tickers", nil, "Explicit instrument list (bare codes get the market suffix)")
	cmd.Flags().StringVar(&f.tickersFile, "tickers-file", "", "File with one instrument per line (first CSV column)")
	cmd.Flags().BoolVar(&f.fromCache, "from-cache", false, "Use every instrument present in the cache directory")
	cmd.Flags().IntVar(&f.minCode, "min-code", 0, "Lowest numeric code taken from the cache directory")
}

func (f *universeFlags) apply(cmd *cobra.Command, cfg *common.UniverseConfig) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		cfg.Start = f.start
	}
	if flags.Changed("end") {
		cfg.End = f.end
	}
	if flags.Changed("tickers") {
		cfg.Tickers = f.tickers
	}
	if flags.Changed("tickers-file") {
		cfg.TickersFile = f.tickersFile
	}
	if flags.Changed("from-cache") {
		cfg.FromCache = f.fromCache
	}
	if flags.Changed("min-code") {
		cfg.MinCode = f.minCode
	}
}
