package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker"

	"github.com/bobmcallan/weekscan/internal/clients/eodhd"
	"github.com/bobmcallan/weekscan/internal/clients/yahoo"
	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/interfaces"
	"github.com/bobmcallan/weekscan/internal/metrics"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/bobmcallan/weekscan/internal/services/exclusion"
	"github.com/bobmcallan/weekscan/internal/services/fetch"
	"github.com/bobmcallan/weekscan/internal/services/report"
	"github.com/bobmcallan/weekscan/internal/services/scan"
	"github.com/bobmcallan/weekscan/internal/services/universe"
	"github.com/bobmcallan/weekscan/internal/services/verify"
	"github.com/bobmcallan/weekscan/internal/signals"
	"github.com/bobmcallan/weekscan/internal/storage/barcache"
	"github.com/bobmcallan/weekscan/internal/storage/exclusiondb"
	"github.com/bobmcallan/weekscan/internal/storage/history"
)

// Breaker settings for the provider circuit
const (
	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
)

// App holds the stores, provider and services shared by every command.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Cache       *barcache.Store
	Exclusions  *exclusion.Registry
	Recorder    interfaces.ScanRecorder
	Provider    interfaces.Provider
	Metrics     *metrics.Registry
	Breaker     *gobreaker.CircuitBreaker
	StartupTime time.Time

	exclusionStore interfaces.ExclusionStore
	registry       *prometheus.Registry
}

// NewApp opens storage and builds the provider. An unwritable cache
// directory is fatal; everything else that fails later is per instrument.
func NewApp(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	cache, err := barcache.NewStore(logger, config.Storage.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	exclusionStore, err := exclusiondb.NewStore(logger, config.Storage.ExclusionDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion store: %w", err)
	}

	var recorder interfaces.ScanRecorder = history.NewNoopRecorder()
	if config.Storage.HistoryDB != "" {
		rec, err := history.NewSQLiteRecorder(logger, config.Storage.HistoryDB)
		if err != nil {
			exclusionStore.Close()
			return nil, fmt.Errorf("failed to open scan history: %w", err)
		}
		recorder = rec
	}

	provider, err := NewProvider(config, logger)
	if err != nil {
		exclusionStore.Close()
		recorder.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	a := &App{
		Config:         config,
		Logger:         logger,
		Cache:          cache,
		Exclusions:     exclusion.NewRegistry(exclusionStore, config.Exclusions.Seed, config.Universe.Width, config.Universe.Suffix, logger),
		Recorder:       recorder,
		Provider:       provider,
		Metrics:        m,
		Breaker:        fetch.NewBreaker(provider.Name(), breakerFailures, breakerOpenFor, m, logger),
		StartupTime:    startupStart,
		exclusionStore: exclusionStore,
		registry:       registry,
	}

	logger.Info().
		Str("provider", provider.Name()).
		Str("cache_dir", cache.Dir()).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// NewProvider builds the configured market data provider.
func NewProvider(config *common.Config, logger *common.Logger) (interfaces.Provider, error) {
	timeout := config.Fetch.GetTimeout()
	switch config.Provider.Name {
	case "yahoo", "":
		opts := []yahoo.ClientOption{
			yahoo.WithLogger(logger),
			yahoo.WithRateLimit(config.Fetch.RateLimit),
			yahoo.WithParallel(config.Fetch.Parallel),
			yahoo.WithTimeout(timeout),
		}
		if config.Provider.Yahoo.BaseURL != "" {
			opts = append(opts, yahoo.WithBaseURL(config.Provider.Yahoo.BaseURL))
		}
		return yahoo.NewClient(opts...), nil
	case "eodhd":
		if config.Provider.EODHD.APIKey == "" {
			return nil, errors.New("EODHD API key not configured (set EODHD_API_KEY)")
		}
		opts := []eodhd.ClientOption{
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Fetch.RateLimit),
			eodhd.WithTimeout(timeout),
			eodhd.WithSuffixMap(config.Provider.EODHD.SuffixMap),
		}
		if config.Provider.EODHD.BaseURL != "" {
			opts = append(opts, eodhd.WithBaseURL(config.Provider.EODHD.BaseURL))
		}
		return eodhd.NewClient(config.Provider.EODHD.APIKey, opts...), nil
	}
	return nil, fmt.Errorf("unknown provider '%s'", config.Provider.Name)
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Recorder != nil {
		errs = append(errs, a.Recorder.Close())
		a.Recorder = nil
	}
	if a.exclusionStore != nil {
		errs = append(errs, a.exclusionStore.Close())
		a.exclusionStore = nil
	}
	return errors.Join(errs...)
}

// BuildUniverse resolves the configured universe minus exclusions. An
// explicit list wins over a ticker file, which wins over the cache
// directory, which wins over the numeric range.
func (a *App) BuildUniverse(ctx context.Context, exclusions *models.ExclusionSet) ([]string, error) {
	u := a.Config.Universe
	switch {
	case len(u.Tickers) > 0:
		return universe.BuildList(u.Tickers, u.Width, u.Suffix, exclusions), nil
	case u.TickersFile != "":
		ids, err := universe.LoadTickerFile(u.TickersFile)
		if err != nil {
			return nil, err
		}
		return universe.BuildList(ids, u.Width, u.Suffix, exclusions), nil
	case u.FromCache:
		keys, err := a.Cache.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list cache: %w", err)
		}
		return universe.FromCacheKeys(keys, u.MinCode, exclusions), nil
	}
	return universe.BuildRange(universe.RangeSpec{
		Start:  u.Start,
		End:    u.End,
		Width:  u.Width,
		Suffix: u.Suffix,
	}, exclusions)
}

// historyRequest is the period and interval cached for every instrument
func (a *App) historyRequest() models.HistoryRequest {
	return models.HistoryRequest{Period: a.Config.Fetch.Period, Interval: a.Config.Fetch.Interval}
}

func (a *App) newFetcher(exclusions *models.ExclusionSet, extra ...fetch.Option) *fetch.Client {
	f := a.Config.Fetch
	opts := append([]fetch.Option{fetch.WithBreaker(a.Breaker), fetch.WithMetrics(a.Metrics)}, extra...)
	return fetch.NewClient(a.Provider, a.Cache, exclusions, fetch.Config{
		BatchSize:           f.BatchSize,
		RetryCount:          f.RetryCount,
		BackoffBase:         f.GetBackoffBase(),
		SleepBetweenBatches: f.GetSleepBetweenBatches(),
		Timeout:             f.GetTimeout(),
	}, a.Logger, opts...)
}

// RunFetch refreshes the cache for the whole universe without scanning.
func (a *App) RunFetch(ctx context.Context) (*models.FetchResult, error) {
	exclusions, err := a.Exclusions.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := a.BuildUniverse(ctx, exclusions)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := a.newFetcher(exclusions).FetchBatch(ctx, ids, a.historyRequest())

	a.Logger.Info().
		Int("requested", len(ids)).
		Int("fetched", len(result.Series)).
		Int("failed", len(result.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetch complete")
	return result, nil
}

// ScanConfig translates the [scan] section into orchestrator settings.
func (a *App) ScanConfig() (scan.Config, error) {
	s := a.Config.Scan
	asOf, err := s.GetAsOf()
	if err != nil {
		return scan.Config{}, err
	}
	workers := s.Workers
	req := a.historyRequest()
	if !asOf.IsZero() {
		if s.AsOfWorkers > workers {
			workers = s.AsOfWorkers
		}
		// misses are fetched for the window ending at the cutoff
		req.End = asOf
	}
	return scan.Config{
		ChunkSize:          s.ChunkSize,
		Workers:            workers,
		SleepBetweenChunks: s.GetSleepBetweenChunks(),
		Bucketing:          models.Bucketing(s.Bucket),
		Detector: signals.DetectorConfig{
			RequireEngulfing:     s.RequireEngulfing,
			RequireMovingAverage: s.RequireMA,
			RelaxedEngulfing:     s.RelaxedEngulfing,
			MovingAverageWindow:  s.LongWindow,
		},
		AsOf:         asOf,
		Request:      req,
		PriceRequest: models.HistoryRequest{Period: s.PricePeriod, Interval: "1d"},
		PriceTimeout: a.Config.Fetch.GetTimeout(),
	}, nil
}

// RunScan scans the universe and writes the result file when configured.
func (a *App) RunScan(ctx context.Context) (*models.ScanReport, error) {
	cfg, err := a.ScanConfig()
	if err != nil {
		return nil, err
	}
	exclusions, err := a.Exclusions.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := a.BuildUniverse(ctx, exclusions)
	if err != nil {
		return nil, err
	}

	var fetchOpts []fetch.Option
	if !cfg.AsOf.IsZero() {
		fetchOpts = append(fetchOpts, fetch.WithoutCacheWrites())
	}
	svc := scan.NewService(a.Cache, a.newFetcher(exclusions, fetchOpts...), a.Logger,
		scan.WithRecorder(a.Recorder),
		scan.WithMetrics(a.Metrics),
		scan.WithPriceProvider(a.Provider),
	)
	result, err := svc.Scan(ctx, ids, exclusions, cfg)
	if err != nil {
		return nil, err
	}

	if out := a.Config.Scan.Output; out != "" {
		if err := report.WriteScanFile(out, result.Matches); err != nil {
			return result, err
		}
		a.Logger.Info().Str("path", out).Int("rows", len(result.Matches)).Msg("Scan results written")
	}
	return result, nil
}

// RunVerify checks the instruments named in input (a failure report or a
// ticker list), writes the verification report and optionally imports the
// "no" verdicts as permanent exclusions.
func (a *App) RunVerify(ctx context.Context, input string, importResults bool) ([]models.VerificationRecord, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", input, err)
	}
	ids := universe.ExtractTickers(string(data), nil)
	if len(ids) == 0 {
		raw, err := universe.LoadTickerFile(input)
		if err != nil {
			return nil, err
		}
		ids = universe.BuildList(raw, a.Config.Universe.Width, a.Config.Universe.Suffix, nil)
	}
	a.Logger.Info().Int("tickers", len(ids)).Str("input", input).Msg("Verifying instruments")

	f := a.Config.Fetch
	v := verify.NewVerifier(a.Provider, a.Logger,
		verify.WithRetry(f.RetryCount, f.GetBackoffBase()),
		verify.WithPause(f.GetSleepBetweenBatches()),
	)
	records := v.Verify(ctx, ids)

	if out := a.Config.Exclusions.VerificationReport; out != "" {
		if err := report.WriteVerificationFile(out, records); err != nil {
			return records, err
		}
		a.Logger.Info().Str("path", out).Int("rows", len(records)).Msg("Verification report written")
	}
	if importResults {
		if _, err := a.Exclusions.ImportVerification(ctx, records); err != nil {
			return records, err
		}
	}
	return records, nil
}

// ImportVerificationReport adds the "no" verdicts of a report file to the
// persistent exclusions.
func (a *App) ImportVerificationReport(ctx context.Context, path string) (int, error) {
	records, err := report.ReadVerificationFile(path)
	if err != nil {
		return 0, err
	}
	return a.Exclusions.ImportVerification(ctx, records)
}
