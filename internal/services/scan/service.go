// Package scan runs the screening pipeline over an instrument universe:
// cache lookup, batched fetch on miss, aggregation, detection and pricing.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/interfaces"
	"github.com/bobmcallan/weekscan/internal/metrics"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/bobmcallan/weekscan/internal/services/universe"
	"github.com/bobmcallan/weekscan/internal/signals"
)

const (
	sourceCache    = "cache"
	sourceProvider = "provider"
)

// Config controls one scan run
type Config struct {
	ChunkSize          int
	Workers            int // >1 evaluates instruments concurrently
	SleepBetweenChunks time.Duration
	Bucketing          models.Bucketing
	Detector           signals.DetectorConfig
	AsOf               time.Time // zero for a current scan
	Request            models.HistoryRequest
	PriceRequest       models.HistoryRequest
	PriceTimeout       time.Duration
}

// Service is the scan orchestrator
type Service struct {
	cache    interfaces.BarCache
	fetcher  interfaces.FetchClient
	provider interfaces.Provider
	recorder interfaces.ScanRecorder
	metrics  *metrics.Registry
	logger   *common.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithRecorder stores every finished run
func WithRecorder(r interfaces.ScanRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithMetrics records outcomes and durations
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPriceProvider enables direct price lookups when a matched instrument
// has no usable close of its own
func WithPriceProvider(p interfaces.Provider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

// WithSleeper replaces the wait used between chunks
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = sleep
	}
}

// NewService creates a scan orchestrator. fetcher must carry the same
// exclusion snapshot that is later passed to Scan.
func NewService(cache interfaces.BarCache, fetcher interfaces.FetchClient, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
		sleep:   common.SleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the mutable state of one scan
type run struct {
	id      string
	cfg     Config
	mu      sync.Mutex
	results map[string]models.InstrumentOutcome
	matches []models.ScanMatch
}

func (r *run) record(o models.InstrumentOutcome, match *models.ScanMatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[o.Ticker] = o
	if match != nil {
		r.matches = append(r.matches, *match)
	}
}

// Scan evaluates every instrument of the universe. Per-instrument failures
// are recorded in the report and never end the run; an error is returned
// only when the configuration makes progress impossible.
func (s *Service) Scan(ctx context.Context, ids []string, exclusions *models.ExclusionSet, cfg Config) (*models.ScanReport, error) {
	if _, err := signals.Aggregate(nil, cfg.Bucketing); err != nil {
		return nil, err
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = len(ids)
	}

	started := s.now()
	report := &models.ScanReport{
		RunID:     uuid.New().String(),
		Mode:      models.ScanModeSequential,
		StartedAt: started,
	}
	if !cfg.AsOf.IsZero() {
		asOf := cfg.AsOf
		report.Mode = models.ScanModeAsOf
		report.AsOf = &asOf
	}
	r := &run{id: report.RunID, cfg: cfg, results: make(map[string]models.InstrumentOutcome)}

	seen := make(map[string]bool, len(ids))
	var pending []string
	for _, t := range ids {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if exclusions.Contains(t) {
			s.logger.Debug().Str("run_id", r.id).Str("ticker", t).Msg("Skipping excluded instrument")
			r.record(models.InstrumentOutcome{Ticker: t, State: models.StateExcluded, Kind: models.FailureExcluded}, nil)
			continue
		}
		pending = append(pending, t)
	}

	s.logger.Info().
		Str("run_id", r.id).
		Str("mode", string(report.Mode)).
		Int("instruments", len(pending)).
		Int("excluded", len(seen)-len(pending)).
		Int("workers", cfg.Workers).
		Msg("Scan started")

	chunks := universe.Chunk(pending, cfg.ChunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			if err := s.sleep(ctx, cfg.SleepBetweenChunks); err != nil {
				s.abandon(r, chunks[i:], err)
				report.Aborted = true
				break
			}
		}
		if err := ctx.Err(); err != nil {
			s.abandon(r, chunks[i:], err)
			report.Aborted = true
			break
		}
		if cfg.Workers > 1 {
			s.runPool(ctx, r, chunk)
		} else {
			s.runChunk(ctx, r, chunk)
		}
		s.logger.Info().
			Str("run_id", r.id).
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("matches", len(r.matches)).
			Msg("Chunk processed")
	}
	if ctx.Err() != nil {
		report.Aborted = true
	}

	s.finish(ctx, r, report)
	return report, nil
}

// runChunk resolves the chunk with one batched fetch for all cache misses,
// then evaluates instruments one after another.
func (s *Service) runChunk(ctx context.Context, r *run, chunk []string) {
	resolved := make(map[string]*models.BarSeries, len(chunk))
	var misses []string
	for _, t := range chunk {
		series, err := s.cache.Get(ctx, t)
		switch {
		case err == nil:
			s.metrics.CacheHit()
			resolved[t] = series
		case errors.Is(err, models.ErrNotFound):
			s.metrics.CacheMiss()
			misses = append(misses, t)
		default:
			s.fail(r, t, "", models.FailureCacheIO, err)
		}
	}

	fetched := s.fetchMisses(ctx, r, misses)
	for _, t := range chunk {
		if series, ok := resolved[t]; ok {
			s.evaluate(ctx, r, t, sourceCache, series)
		} else if series, ok := fetched[t]; ok {
			s.evaluate(ctx, r, t, sourceProvider, series)
		}
	}
}

// runPool runs each instrument's full pipeline on a bounded set of workers.
func (s *Service) runPool(ctx context.Context, r *run, chunk []string) {
	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup

	for i, t := range chunk {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			s.abandon(r, [][]string{chunk[i:]}, err)
			break
		}
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runOne(ctx, r, ticker)
		}(t)
	}
	wg.Wait()
}

func (s *Service) runOne(ctx context.Context, r *run, ticker string) {
	series, err := s.cache.Get(ctx, ticker)
	switch {
	case err == nil:
		s.metrics.CacheHit()
		s.evaluate(ctx, r, ticker, sourceCache, series)
		return
	case !errors.Is(err, models.ErrNotFound):
		s.fail(r, ticker, "", models.FailureCacheIO, err)
		return
	}
	s.metrics.CacheMiss()
	if fetched, ok := s.fetchMisses(ctx, r, []string{ticker})[ticker]; ok {
		s.evaluate(ctx, r, ticker, sourceProvider, fetched)
	}
}

// fetchMisses asks the fetch client for tickers and records a failure for
// every one it could not resolve.
func (s *Service) fetchMisses(ctx context.Context, r *run, tickers []string) map[string]*models.BarSeries {
	if len(tickers) == 0 {
		return nil
	}
	res := s.fetcher.FetchBatch(ctx, tickers, r.cfg.Request)
	out := make(map[string]*models.BarSeries, len(tickers))
	for _, t := range tickers {
		if series, ok := res.Series[t]; ok {
			out[t] = series
			continue
		}
		if fe, ok := res.Failures[t]; ok {
			s.fail(r, t, sourceProvider, fe.Kind, fe.Err)
			continue
		}
		s.fail(r, t, sourceProvider, models.FailureTransient, fmt.Errorf("%s: not resolved by fetch", t))
	}
	return out
}

// evaluate aggregates and detects one instrument. A panic or aggregation
// error becomes a failed outcome for this instrument only.
func (s *Service) evaluate(ctx context.Context, r *run, ticker, source string, series *models.BarSeries) {
	var (
		sig   models.SignalResult
		price *float64
	)
	err := common.SafeCall(func() error {
		if !r.cfg.AsOf.IsZero() {
			full := series.Len()
			series = series.Truncate(r.cfg.AsOf)
			if full > 0 && series.Len() == 0 {
				s.logger.Warn().Str("run_id", r.id).Str("ticker", ticker).Str("source", source).
					Time("as_of", r.cfg.AsOf).Msg("No bars on or before the as-of date")
			}
		}
		candles, err := signals.Aggregate(series, r.cfg.Bucketing)
		if err != nil {
			return err
		}
		sig = signals.Detect(ticker, candles, r.cfg.Detector)
		if sig.Matched {
			price = s.resolvePrice(ctx, r, ticker, series)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("run_id", r.id).Str("ticker", ticker).Msg("Instrument evaluation failed")
		s.fail(r, ticker, source, models.FailureEvaluation, err)
		return
	}

	o := models.InstrumentOutcome{Ticker: ticker, State: models.StateNotMatched, Source: source, Signal: &sig}
	if !sig.Matched {
		r.record(o, nil)
		return
	}
	o.State = models.StateMatched
	s.logger.Debug().Str("run_id", r.id).Str("ticker", ticker).Str("pattern", string(sig.PatternKind)).Msg("Instrument matched")
	r.record(o, &models.ScanMatch{Ticker: ticker, Price: price, Signal: sig})
}

// resolvePrice prefers the series' own latest close and only asks the
// provider when there is none.
func (s *Service) resolvePrice(ctx context.Context, r *run, ticker string, series *models.BarSeries) *float64 {
	if c, ok := series.LastClose(); ok {
		return &c
	}
	if s.provider == nil {
		return nil
	}
	req := r.cfg.PriceRequest
	if !r.cfg.AsOf.IsZero() {
		req.End = r.cfg.AsOf
	}
	callCtx := ctx
	if r.cfg.PriceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.PriceTimeout)
		defer cancel()
	}
	latest, err := s.provider.FetchOne(callCtx, ticker, req)
	if err != nil {
		s.logger.Debug().Err(err).Str("ticker", ticker).Msg("Price lookup failed")
		return nil
	}
	if c, ok := latest.Clean().LastClose(); ok {
		return &c
	}
	return nil
}

func (s *Service) fail(r *run, ticker, source string, kind models.FailureKind, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.record(models.InstrumentOutcome{
		Ticker: ticker,
		State:  models.StateFailed,
		Source: source,
		Kind:   kind,
		Error:  msg,
	}, nil)
}

func (s *Service) abandon(r *run, chunks [][]string, err error) {
	n := 0
	for _, chunk := range chunks {
		for _, t := range chunk {
			s.fail(r, t, "", models.FailureTransient, err)
			n++
		}
	}
	s.logger.Warn().Err(err).Str("run_id", r.id).Int("abandoned", n).Msg("Scan interrupted")
}

func (s *Service) finish(ctx context.Context, r *run, report *models.ScanReport) {
	tickers := make([]string, 0, len(r.results))
	for t := range r.results {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, t := range tickers {
		o := r.results[t]
		report.Outcomes = append(report.Outcomes, o)
		s.metrics.Outcome(string(o.State))
		switch o.State {
		case models.StateExcluded:
			report.Excluded++
			continue
		case models.StateFailed:
			report.Failed++
		default:
			report.Succeeded++
		}
		report.Processed++
	}

	report.Matches = r.matches
	models.SortMatches(report.Matches)
	report.FinishedAt = s.now()
	s.metrics.ScanFinished(string(report.Mode), report.FinishedAt.Sub(report.StartedAt))

	s.logger.Info().
		Str("run_id", r.id).
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("excluded", report.Excluded).
		Int("matches", len(report.Matches)).
		Bool("aborted", report.Aborted).
		Msg("Scan finished")

	if s.recorder == nil {
		return
	}
	// a cancelled run is still recorded
	if err := s.recorder.RecordScan(context.WithoutCancel(ctx), report); err != nil {
		s.logger.Warn().Err(err).Str("run_id", r.id).Msg("Failed to record scan")
	}
}
