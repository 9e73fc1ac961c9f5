package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	var (
		uf        universeFlags
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Refresh the bar cache for the universe without scanning",
		RunE: func(cmd *cobra.Command, args []string) error {
			uf.apply(cmd, &config.Universe)
			if cmd.Flags().Changed("batch-size") {
				config.Fetch.BatchSize = batchSize
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.RunFetch(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fetched %d, failed %d\n", len(result.Series), len(result.Failures))
			failed := make([]string, 0, len(result.Failures))
			for t := range result.Failures {
				failed = append(failed, t)
			}
			sort.Strings(failed)
			for _, t := range failed {
				fmt.Fprintf(out, "  %-10s %s\n", t, result.Failures[t].Kind)
			}
			return nil
		},
	}
	uf.register(cmd)
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Instruments per provider request")
	return cmd
}
