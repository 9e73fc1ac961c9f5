package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/bobmcallan/weekscan/internal/services/fetch"
	"github.com/bobmcallan/weekscan/internal/signals"
)

// week is one synthetic weekly candle made of a single midweek bar
type week struct{ open, close float64 }

var firstMonday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func weekDate(i int) time.Time { return firstMonday.AddDate(0, 0, 7*i+2) }

func weekly(ticker string, weeks []week) *models.BarSeries {
	s := &models.BarSeries{Ticker: ticker, Interval: "1d"}
	for i, w := range weeks {
		hi, lo := w.open, w.close
		if lo > hi {
			hi, lo = lo, hi
		}
		s.Bars = append(s.Bars, models.Bar{Time: weekDate(i), Open: w.open, High: hi + 1, Low: lo - 1, Close: w.close, Volume: 1000})
	}
	return s
}

func flat(n int, price float64) []week {
	out := make([]week, n)
	for i := range out {
		out[i] = week{price, price}
	}
	return out
}

// engulfing ends in a bearish week fully engulfed by a bullish one, scaled by k
func engulfing(ticker string, k float64) *models.BarSeries {
	weeks := flat(10, 105*k)
	weeks = append(weeks, week{110 * k, 100 * k}, week{100 * k, 112 * k})
	return weekly(ticker, weeks)
}

func rising(ticker string) *models.BarSeries {
	weeks := flat(10, 105)
	weeks = append(weeks, week{100, 105}, week{105, 110})
	return weekly(ticker, weeks)
}

var detector = signals.DetectorConfig{RequireEngulfing: true, RequireMovingAverage: true, MovingAverageWindow: 5}

func baseConfig() Config {
	return Config{
		ChunkSize: 4,
		Bucketing: models.BucketWeekly,
		Detector:  detector,
		Request:   models.HistoryRequest{Period: "2y", Interval: "1d"},
	}
}

type memCache struct {
	mu     sync.Mutex
	data   map[string]*models.BarSeries
	getErr map[string]error
	gets   []string
}

func newMemCache() *memCache {
	return &memCache{data: map[string]*models.BarSeries{}, getErr: map[string]error{}}
}

func (c *memCache) Get(_ context.Context, ticker string) (*models.BarSeries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = append(c.gets, ticker)
	if err := c.getErr[ticker]; err != nil {
		return nil, err
	}
	s, ok := c.data[ticker]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s, nil
}

func (c *memCache) Put(_ context.Context, s *models.BarSeries) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[s.Ticker] = s
	return nil
}

func (c *memCache) List(_ context.Context) ([]string, error) { return nil, nil }

type mockProvider struct {
	mu    sync.Mutex
	calls []string
	oneFn func(ticker string) (*models.BarSeries, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) FetchBatch(_ context.Context, tickers []string, _ models.HistoryRequest) (models.BatchResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, tickers...)
	m.mu.Unlock()
	return nil, models.ErrBatchUnsupported
}

func (m *mockProvider) FetchOne(_ context.Context, ticker string, _ models.HistoryRequest) (*models.BarSeries, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ticker)
	m.mu.Unlock()
	return m.oneFn(ticker)
}

type mockRecorder struct {
	reports []*models.ScanReport
	err     error
}

func (r *mockRecorder) RecordScan(_ context.Context, report *models.ScanReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func (r *mockRecorder) RecentRuns(_ context.Context, _ int) ([]models.ScanRunSummary, error) {
	return nil, nil
}

func (r *mockRecorder) Close() error { return nil }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newService(cache *memCache, provider *mockProvider, excl *models.ExclusionSet, opts ...Option) *Service {
	logger := common.NewSilentLogger()
	fetcher := fetch.NewClient(provider, cache, excl, fetch.Config{BatchSize: 5}, logger, fetch.WithSleeper(noSleep))
	opts = append([]Option{WithSleeper(noSleep)}, opts...)
	return NewService(cache, fetcher, logger, opts...)
}

func tickers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%d.T", 1301+i)
	}
	return out
}

func TestScan_PartialFailureIsolation(t *testing.T) {
	ids := tickers(10)
	broken := ids[4]
	provider := &mockProvider{oneFn: func(ticker string) (*models.BarSeries, error) {
		if ticker == broken {
			panic("unexpected payload")
		}
		if ticker == ids[0] || ticker == ids[9] {
			return engulfing(ticker, 1), nil
		}
		return rising(ticker), nil
	}}
	svc := newService(newMemCache(), provider, nil)

	report, err := svc.Scan(context.Background(), ids, nil, baseConfig())
	require.NoError(t, err)

	assert.Equal(t, 10, report.Processed)
	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, broken, report.Failures()[0].Ticker)
	assert.Len(t, report.Outcomes, 10)
	assert.Len(t, report.Matches, 2)
	assert.False(t, report.Aborted)
}

func TestScan_ExcludedNeverTouched(t *testing.T) {
	ids := tickers(6)
	excl := models.NewExclusionSet(ids[1], ids[3])
	cache := newMemCache()
	provider := &mockProvider{oneFn: func(ticker string) (*models.BarSeries, error) {
		if excl.Contains(ticker) {
			t.Errorf("provider called for excluded %s", ticker)
		}
		return rising(ticker), nil
	}}
	svc := newService(cache, provider, excl)

	report, err := svc.Scan(context.Background(), ids, excl, baseConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Excluded)
	assert.Equal(t, 4, report.Processed)
	assert.NotContains(t, cache.gets, ids[1])
	assert.NotContains(t, cache.gets, ids[3])
	assert.NotContains(t, provider.calls, ids[1])
	for _, o := range report.Outcomes {
		if excl.Contains(o.Ticker) {
			assert.Equal(t, models.StateExcluded, o.State)
		}
	}
}

func TestScan_CacheHitsSkipProviderAndSortByPrice(t *testing.T) {
	cache := newMemCache()
	cache.data["7203.T"] = engulfing("7203.T", 3)
	cache.data["1301.T"] = engulfing("1301.T", 0.5)
	cache.data["6758.T"] = engulfing("6758.T", 2)
	cache.data["9984.T"] = rising("9984.T")
	provider := &mockProvider{oneFn: func(string) (*models.BarSeries, error) {
		return nil, errors.New("unexpected call")
	}}
	svc := newService(cache, provider, nil)

	report, err := svc.Scan(context.Background(), []string{"7203.T", "9984.T", "1301.T", "6758.T"}, nil, baseConfig())
	require.NoError(t, err)

	assert.Empty(t, provider.calls)
	require.Len(t, report.Matches, 3)
	assert.Equal(t, "1301.T", report.Matches[0].Ticker)
	assert.Equal(t, "6758.T", report.Matches[1].Ticker)
	assert.Equal(t, "7203.T", report.Matches[2].Ticker)
	require.NotNil(t, report.Matches[0].Price)
	assert.InDelta(t, 56.0, *report.Matches[0].Price, 1e-9)
	for _, o := range report.Outcomes {
		assert.Equal(t, sourceCache, o.Source)
	}
}

func TestScan_CacheReadErrorIsInstrumentFailure(t *testing.T) {
	cache := newMemCache()
	cache.data["1301.T"] = rising("1301.T")
	cache.getErr["1332.T"] = errors.New("permission denied")
	provider := &mockProvider{oneFn: func(ticker string) (*models.BarSeries, error) {
		t.Errorf("provider called for %s", ticker)
		return nil, models.ErrNoUsableData
	}}
	svc := newService(cache, provider, nil)

	report, err := svc.Scan(context.Background(), []string{"1301.T", "1332.T"}, nil, baseConfig())
	require.NoError(t, err)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, models.FailureCacheIO, report.Failures()[0].Kind)
	assert.Equal(t, 1, report.Succeeded)
}

func TestScan_AsOfWithWorkerPool(t *testing.T) {
	weeks := flat(10, 105)
	weeks = append(weeks, week{110, 100}, week{100, 112}, week{120, 118}, week{118, 115})
	cache := newMemCache()
	for _, id := range tickers(8) {
		cache.data[id] = weekly(id, weeks)
	}
	provider := &mockProvider{oneFn: func(string) (*models.BarSeries, error) { return nil, models.ErrNoUsableData }}
	svc := newService(cache, provider, nil)

	current, err := svc.Scan(context.Background(), tickers(8), nil, baseConfig())
	require.NoError(t, err)
	assert.Empty(t, current.Matches)

	cfg := baseConfig()
	cfg.Workers = 3
	cfg.AsOf = weekDate(11)
	past, err := svc.Scan(context.Background(), tickers(8), nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, models.ScanModeAsOf, past.Mode)
	require.NotNil(t, past.AsOf)
	assert.Len(t, past.Matches, 8)
	for _, m := range past.Matches {
		require.NotNil(t, m.Price)
		assert.Equal(t, 112.0, *m.Price)
	}
	assert.NotEqual(t, current.RunID, past.RunID)
}

func TestScan_AsOfBeforeHistoryWarns(t *testing.T) {
	cache := newMemCache()
	cache.data["1301.T"] = engulfing("1301.T", 1)
	var buf bytes.Buffer
	logger := common.NewLoggerWithOutput("warn", &buf)
	provider := &mockProvider{}
	fetcher := fetch.NewClient(provider, cache, nil, fetch.Config{BatchSize: 5}, logger, fetch.WithSleeper(noSleep))
	svc := NewService(cache, fetcher, logger, WithSleeper(noSleep))

	cfg := baseConfig()
	cfg.AsOf = firstMonday.AddDate(0, 0, -30)
	report, err := svc.Scan(context.Background(), []string{"1301.T"}, nil, cfg)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, models.StateNotMatched, report.Outcomes[0].State)
	assert.Equal(t, models.ReasonInsufficientHistory, report.Outcomes[0].Signal.Reason)
	assert.Contains(t, buf.String(), "No bars on or before the as-of date")
	assert.Contains(t, buf.String(), `"ticker":"1301.T"`)
}

func TestScan_InsufficientHistoryIsNotAFailure(t *testing.T) {
	cache := newMemCache()
	cache.data["1301.T"] = weekly("1301.T", []week{{110, 100}})
	svc := newService(cache, &mockProvider{}, nil)

	report, err := svc.Scan(context.Background(), []string{"1301.T"}, nil, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, models.StateNotMatched, report.Outcomes[0].State)
	assert.Equal(t, models.ReasonInsufficientHistory, report.Outcomes[0].Signal.Reason)
}

func TestScan_PacesChunks(t *testing.T) {
	cache := newMemCache()
	for _, id := range tickers(9) {
		cache.data[id] = rising(id)
	}
	var waits []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	svc := newService(cache, &mockProvider{}, nil, WithSleeper(sleeper))

	cfg := baseConfig()
	cfg.SleepBetweenChunks = 2 * time.Second
	_, err := svc.Scan(context.Background(), tickers(9), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waits)
}

func TestScan_CancelledRunIsRecorded(t *testing.T) {
	cache := newMemCache()
	for _, id := range tickers(4) {
		cache.data[id] = rising(id)
	}
	rec := &mockRecorder{}
	svc := newService(cache, &mockProvider{}, nil, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.Scan(ctx, tickers(4), nil, baseConfig())
	require.NoError(t, err)

	assert.True(t, report.Aborted)
	assert.Equal(t, 4, report.Failed)
	require.Len(t, rec.reports, 1)
	assert.Equal(t, report.RunID, rec.reports[0].RunID)
}

func TestScan_RecorderErrorDoesNotFailRun(t *testing.T) {
	cache := newMemCache()
	cache.data["1301.T"] = engulfing("1301.T", 1)
	svc := newService(cache, &mockProvider{}, nil, WithRecorder(&mockRecorder{err: errors.New("disk full")}))

	report, err := svc.Scan(context.Background(), []string{"1301.T"}, nil, baseConfig())
	require.NoError(t, err)
	assert.Len(t, report.Matches, 1)
}

func TestScan_UnknownBucketing(t *testing.T) {
	svc := newService(newMemCache(), &mockProvider{}, nil)
	cfg := baseConfig()
	cfg.Bucketing = "daily"
	_, err := svc.Scan(context.Background(), tickers(1), nil, cfg)
	assert.Error(t, err)
}
