package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/app"
)

func scheduleCmd() *cobra.Command {
	var (
		uf          universeFlags
		cronSpec    string
		metricsAddr string
		runOnStart  bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run fetch and scan on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			uf.apply(cmd, &config.Universe)
			if cmd.Flags().Changed("cron") {
				config.Schedule.Cron = cronSpec
			}
			if cmd.Flags().Changed("metrics-addr") {
				config.Schedule.MetricsAddr = metricsAddr
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			s := app.NewScheduler(a)
			if err := s.Start(ctx); err != nil {
				return err
			}
			if runOnStart {
				go s.RunNow()
			}

			<-ctx.Done()
			logger.Info().Msg("Shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return s.Stop(stopCtx)
		},
	}
	uf.register(cmd)
	cmd.Flags().StringVar(&cronSpec, "cron", "", "Cron expression with seconds (default Saturday 07:00)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Run once immediately")
	return cmd
}
