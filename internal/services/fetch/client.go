// Package fetch resolves bar series for many instruments against a provider,
// batching requests and falling back to per-instrument calls.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/interfaces"
	"github.com/bobmcallan/weekscan/internal/metrics"
	"github.com/bobmcallan/weekscan/internal/models"
)

// Config holds the batching and retry settings
type Config struct {
	BatchSize           int
	RetryCount          int
	BackoffBase         time.Duration
	SleepBetweenBatches time.Duration
	Timeout             time.Duration // per provider call; zero means none
}

// Client implements interfaces.FetchClient
type Client struct {
	provider   interfaces.Provider
	cache      interfaces.BarCache
	exclusions *models.ExclusionSet
	cfg        Config
	logger     *common.Logger
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Registry
	sleep      func(ctx context.Context, d time.Duration) error
	readOnly   bool
}

// Option configures the client
type Option func(*Client)

// WithBreaker routes every provider call through cb
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithMetrics records fetch activity
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithoutCacheWrites returns fetched series without storing them. Used for
// historical windows that must not replace the cached current series.
func WithoutCacheWrites() Option {
	return func(c *Client) {
		c.readOnly = true
	}
}

// WithSleeper replaces the wait used for backoff and batch pacing
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a fetch client. exclusions is the snapshot taken at the
// start of the run; excluded tickers are never sent to the provider.
func NewClient(provider interfaces.Provider, cache interfaces.BarCache, exclusions *models.ExclusionSet, cfg Config, logger *common.Logger, opts ...Option) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	c := &Client{
		provider:   provider,
		cache:      cache,
		exclusions: exclusions,
		cfg:        cfg,
		logger:     logger,
		sleep:      common.SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBatch resolves every ticker to a cached series or an explicit failure.
// Failures never abort sibling tickers.
func (c *Client) FetchBatch(ctx context.Context, tickers []string, req models.HistoryRequest) *models.FetchResult {
	result := models.NewFetchResult()

	seen := make(map[string]bool, len(tickers))
	var pending []string
	for _, t := range tickers {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if c.exclusions.Contains(t) {
			c.logger.Debug().Str("ticker", t).Msg("Skipping excluded instrument")
			result.Fail(t, models.FailureExcluded, models.ErrExcluded)
			continue
		}
		pending = append(pending, t)
	}

	batches := Partition(pending, c.cfg.BatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.SleepBetweenBatches); err != nil {
				c.abandon(batches[i:], err, result)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			c.abandon(batches[i:], err, result)
			break
		}
		c.fetchBatch(ctx, i, batch, req, result)
	}
	return result
}

// Partition splits ids into consecutive groups of at most size.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func (c *Client) abandon(batches [][]string, err error, result *models.FetchResult) {
	for _, batch := range batches {
		for _, t := range batch {
			result.Fail(t, models.FailureTransient, err)
		}
	}
}

func (c *Client) fetchBatch(ctx context.Context, index int, batch []string, req models.HistoryRequest, result *models.FetchResult) {
	name := c.provider.Name()
	var resp models.BatchResponse
	err := c.call(ctx, metrics.PathBatch, func(ctx context.Context) error {
		r, err := c.provider.FetchBatch(ctx, batch, req)
		if err == nil && r == nil {
			err = models.ErrMalformedResponse
		}
		resp = r
		return err
	})

	var fallback []string
	switch {
	case err != nil:
		reason := "batch_failed"
		if errors.Is(err, models.ErrBatchUnsupported) {
			reason = "batch_unsupported"
		} else {
			c.logger.Warn().Err(err).Int("batch", index).Int("size", len(batch)).Msg("Batch fetch failed, falling back to single requests")
		}
		c.metrics.Fallback(name, reason, len(batch))
		fallback = batch
	case resp.Shape() == models.ShapeEmpty:
		c.logger.Warn().Int("batch", index).Int("size", len(batch)).Msg("Batch returned no data, falling back to single requests")
		c.metrics.Fallback(name, "batch_empty", len(batch))
		fallback = batch
	default:
		for _, t := range batch {
			series, err := resp.Extract(t)
			if err == nil {
				err = c.accept(ctx, t, series, result)
			}
			var fe *models.FetchError
			if errors.As(err, &fe) && fe.Kind == models.FailureCacheIO {
				continue
			}
			// the provider already asked for this instrument on its own and
			// got a definitive answer; asking again would repeat it
			var apiErr *models.APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				c.logger.Debug().Err(err).Str("ticker", t).Msg("Instrument rejected by provider")
				result.Fail(t, models.KindOf(err), err)
				continue
			}
			if err != nil {
				c.logger.Debug().Err(err).Str("ticker", t).Msg("Not resolved from batch")
				fallback = append(fallback, t)
			}
		}
		c.metrics.Fallback(name, "extract_failed", len(fallback))
	}

	for _, t := range fallback {
		if err := ctx.Err(); err != nil {
			result.Fail(t, models.FailureTransient, err)
			continue
		}
		c.fetchOne(ctx, t, req, result)
	}

	c.logger.Info().
		Str("provider", name).
		Int("batch", index).
		Int("size", len(batch)).
		Int("fallback", len(fallback)).
		Msg("Batch processed")
}

func (c *Client) fetchOne(ctx context.Context, ticker string, req models.HistoryRequest, result *models.FetchResult) {
	var series *models.BarSeries
	err := c.call(ctx, metrics.PathSingle, func(ctx context.Context) error {
		s, err := c.provider.FetchOne(ctx, ticker, req)
		if err == nil && s == nil {
			err = models.ErrNoUsableData
		}
		series = s
		return err
	})
	if err == nil {
		err = c.accept(ctx, ticker, series, result)
	}
	if err == nil {
		return
	}

	var fe *models.FetchError
	if !errors.As(err, &fe) {
		result.Fail(ticker, models.KindOf(err), err)
	}
	c.logger.Warn().Err(err).Str("ticker", ticker).Msg("Instrument fetch failed")
}

// accept cleans series, writes it to the cache unless the client is read-only
// and records the success.
// An empty series is returned as ErrNoUsableData without being recorded so
// the caller can decide whether to fall back. A cache failure is recorded.
func (c *Client) accept(ctx context.Context, ticker string, series *models.BarSeries, result *models.FetchResult) error {
	clean := series.Clean()
	clean.Ticker = ticker
	if clean.Len() == 0 {
		return fmt.Errorf("%s: %w", ticker, models.ErrNoUsableData)
	}
	if c.readOnly {
		result.Succeed(clean)
		return nil
	}
	if err := c.cache.Put(ctx, clean); err != nil {
		result.Fail(ticker, models.FailureCacheIO, err)
		return result.Failures[ticker]
	}
	result.Succeed(clean)
	return nil
}

// call runs op with the retry policy, a per-call timeout and the breaker.
func (c *Client) call(ctx context.Context, path string, op func(ctx context.Context) error) error {
	name := c.provider.Name()
	policy := common.RetryPolicy{
		Attempts:  c.cfg.RetryCount,
		BaseDelay: c.cfg.BackoffBase,
		Sleep:     c.sleep,
	}
	return common.Retry(ctx, policy, Retryable, func(ctx context.Context) error {
		callCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
		err := c.execute(callCtx, op)
		c.metrics.FetchAttempt(name, path, err)
		return err
	}, func(attempt int, wait time.Duration, err error) {
		c.metrics.FetchRetry(name, path)
		c.logger.Debug().Err(err).Str("path", path).Int("attempt", attempt).Dur("wait", wait).Msg("Retrying provider call")
	})
}

func (c *Client) execute(ctx context.Context, op func(ctx context.Context) error) error {
	guarded := func() error {
		return common.SafeCall(func() error { return op(ctx) })
	}
	if c.breaker == nil {
		return guarded()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, guarded()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", models.ErrCircuitOpen, err)
	}
	return err
}

// Retryable reports whether a provider error is transient. Unknown
// instruments, unsupported batches and unparseable payloads are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if !common.RetryAll(err) {
		return false
	}
	switch {
	case errors.Is(err, models.ErrBatchUnsupported),
		errors.Is(err, models.ErrNoUsableData),
		errors.Is(err, models.ErrMalformedResponse),
		errors.Is(err, models.ErrExcluded):
		return false
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
