package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/weekscan/internal/app"
	"github.com/bobmcallan/weekscan/internal/common"
)

// globals set by the root command before any subcommand runs
var (
	configPaths []string
	envFile     string
	logLevel    string
	noBanner    bool

	config    *common.Config
	logger    *common.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "weekscan",
	Short: "Weekly bullish-engulfing screener for exchange-listed equities",
	Long: `weekscan maintains a local cache of daily bars for a universe of
instruments, aggregates them into weekly (or monthly) candles and reports the
instruments whose latest candle engulfs the previous one above its moving
average.

Example usage:
  weekscan fetch --start 1300 --end 1400    # warm the cache
  weekscan scan --from-cache                # scan everything cached
  weekscan scan --as-of 2024-03-22          # reproduce a past scan
  weekscan verify --input failures.log --import`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if err := common.LoadDotEnv(envFile); err != nil {
			return err
		}
		cfg, err := common.LoadConfig(configPaths...)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		l, closer, err := common.NewLoggerFromConfig(cfg.Logging)
		if err != nil {
			return err
		}
		config, logger, logCloser = cfg, l, closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&configPaths, "config", []string{"config/weekscan.toml"}, "Config files (TOML or YAML), later files override earlier ones")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "Do not print the startup banner")

	rootCmd.AddCommand(fetchCmd(), scanCmd(), verifyCmd(), exclusionsCmd(), scheduleCmd(), historyCmd(), versionCmd())
}

// openApp validates the final config and opens the stores for a command.
func openApp(cmd *cobra.Command) (*app.App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !noBanner {
		common.PrintBanner(cmd.ErrOrStderr(), cmd.CommandPath(), config, logger)
	}
	return app.NewApp(config, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
