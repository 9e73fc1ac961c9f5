// Package verify checks whether instruments exist at the provider and
// produces the verification report consumed by the exclusion registry.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/interfaces"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/bobmcallan/weekscan/internal/services/fetch"
)

// DefaultPeriod is the short history window used for existence checks
const DefaultPeriod = "1mo"

// Verifier queries the provider one instrument at a time
type Verifier struct {
	provider interfaces.Provider
	logger   *common.Logger
	req      models.HistoryRequest
	policy   common.RetryPolicy
	pause    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithRetry sets the retry budget for transient provider errors
func WithRetry(attempts int, base time.Duration) Option {
	return func(v *Verifier) {
		v.policy.Attempts = attempts
		v.policy.BaseDelay = base
	}
}

// WithPause inserts a fixed delay between instruments
func WithPause(d time.Duration) Option {
	return func(v *Verifier) {
		v.pause = d
	}
}

// WithSleeper replaces the wait used for pacing and backoff
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(v *Verifier) {
		v.sleep = sleep
		v.policy.Sleep = sleep
	}
}

// NewVerifier creates a verifier against provider.
func NewVerifier(provider interfaces.Provider, logger *common.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		provider: provider,
		logger:   logger,
		req:      models.HistoryRequest{Period: DefaultPeriod, Interval: "1d"},
		sleep:    common.SleepContext,
		now:      time.Now,
	}
	v.policy.Sleep = v.sleep
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks every ticker and returns one record per ticker in input
// order. Only a definitive answer yields "no"; transient failures are
// reported as "unknown" so they never become permanent exclusions.
func (v *Verifier) Verify(ctx context.Context, tickers []string) []models.VerificationRecord {
	records := make([]models.VerificationRecord, 0, len(tickers))
	for i, t := range tickers {
		if i > 0 && v.pause > 0 {
			if err := v.sleep(ctx, v.pause); err != nil {
				records = append(records, unknown(t, err))
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			records = append(records, unknown(t, err))
			continue
		}
		rec := v.check(ctx, t)
		v.logger.Info().
			Str("ticker", t).
			Str("exists", rec.Exists).
			Int("rows", rec.Rows).
			Dur("elapsed", rec.Elapsed).
			Msg("Verified instrument")
		records = append(records, rec)
	}
	return records
}

func (v *Verifier) check(ctx context.Context, ticker string) models.VerificationRecord {
	start := v.now()
	var series *models.BarSeries
	err := common.Retry(ctx, v.policy, fetch.Retryable, func(ctx context.Context) error {
		return common.SafeCall(func() error {
			s, err := v.provider.FetchOne(ctx, ticker, v.req)
			series = s
			return err
		})
	}, nil)
	rec := models.VerificationRecord{Ticker: ticker, Elapsed: v.now().Sub(start)}

	switch {
	case err == nil:
		rows := series.Clean().Len()
		rec.Rows = rows
		if rows > 0 {
			rec.Exists = models.ExistsYes
		} else {
			rec.Exists = models.ExistsNo
			rec.Note = "empty history"
		}
	case errors.Is(err, models.ErrNoUsableData):
		rec.Exists = models.ExistsNo
		rec.Note = "no data"
	case errors.Is(err, models.ErrMalformedResponse):
		rec.Exists = models.ExistsUnknown
		rec.Note = err.Error()
	case !fetch.Retryable(err) && !errors.Is(err, context.Canceled):
		rec.Exists = models.ExistsNo
		rec.Note = err.Error()
	default:
		rec.Exists = models.ExistsUnknown
		rec.Note = err.Error()
	}
	return rec
}

func unknown(ticker string, err error) models.VerificationRecord {
	return models.VerificationRecord{
		Ticker: ticker,
		Exists: models.ExistsUnknown,
		Note:   fmt.Sprintf("not checked: %v", err),
	}
}
