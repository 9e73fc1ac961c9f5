package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
)

type week struct{ open, close float64 }

func chartBody(symbol string, weeks []week) []byte {
	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	var ts []int64
	var open, high, low, closes, volume []float64
	for i, w := range weeks {
		hi, lo := w.open, w.close
		if lo > hi {
			hi, lo = lo, hi
		}
		ts = append(ts, start.AddDate(0, 0, 7*i).Unix())
		open = append(open, w.open)
		high = append(high, hi+1)
		low = append(low, lo-1)
		closes = append(closes, w.close)
		volume = append(volume, 1000)
	}
	body, _ := json.Marshal(map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"meta":      map[string]any{"symbol": symbol, "exchangeTimezoneName": "UTC"},
				"timestamp": ts,
				"indicators": map[string]any{"quote": []any{map[string]any{
					"open": open, "high": high, "low": low, "close": closes, "volume": volume,
				}}},
			}},
			"error": nil,
		},
	})
	return body
}

func pattern(last ...week) []week {
	weeks := make([]week, 10)
	for i := range weeks {
		weeks[i] = week{105, 105}
	}
	return append(weeks, last...)
}

// fakeYahoo serves chart data per symbol and 404s unknown symbols
func fakeYahoo(t *testing.T, charts map[string][]week) (*httptest.Server, *int32) {
	t.Helper()
	var chartCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chartCalls, 1)
		symbol := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
		weeks, ok := charts[symbol]
		if !ok {
			http.Error(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(chartBody(symbol, weeks))
	}))
	t.Cleanup(srv.Close)
	return srv, &chartCalls
}

func testConfig(t *testing.T, baseURL string) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.CacheDir = filepath.Join(dir, "cache")
	cfg.Storage.ExclusionDB = filepath.Join(dir, "exclusions")
	cfg.Storage.HistoryDB = filepath.Join(dir, "history.db")
	cfg.Provider.Yahoo.BaseURL = baseURL
	cfg.Fetch.RateLimit = 1000
	cfg.Fetch.RetryCount = 1
	cfg.Fetch.BackoffBase = "1ms"
	cfg.Fetch.SleepBetweenBatches = "0s"
	cfg.Fetch.Timeout = "5s"
	cfg.Scan.LongWindow = 5
	cfg.Scan.ShortWindow = 2
	cfg.Scan.Output = filepath.Join(dir, "out", "scan_results.csv")
	cfg.Exclusions.VerificationReport = filepath.Join(dir, "out", "verified.csv")
	return cfg
}

func newTestApp(t *testing.T, cfg *common.Config) *App {
	t.Helper()
	a, err := NewApp(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewProvider(t *testing.T) {
	cfg := common.NewDefaultConfig()

	p, err := NewProvider(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	assert.Equal(t, "yahoo", p.Name())

	cfg.Provider.Name = "eodhd"
	cfg.Provider.EODHD.APIKey = ""
	_, err = NewProvider(cfg, common.NewSilentLogger())
	assert.Error(t, err)

	cfg.Provider.EODHD.APIKey = "demo"
	p, err = NewProvider(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	assert.Equal(t, "eodhd", p.Name())

	cfg.Provider.Name = "bloomberg"
	_, err = NewProvider(cfg, common.NewSilentLogger())
	assert.Error(t, err)
}

func TestNewApp_UnknownProviderReleasesStores(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Provider.Name = "bloomberg"
	_, err := NewApp(cfg, common.NewSilentLogger())
	require.Error(t, err)

	// the exclusion database must have been closed and can be reopened
	cfg.Provider.Name = "yahoo"
	newTestApp(t, cfg)
}

func TestBuildUniverse(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	a := newTestApp(t, cfg)
	ctx := context.Background()
	excl, err := a.Exclusions.Snapshot(ctx)
	require.NoError(t, err)

	t.Run("range applies seed exclusions", func(t *testing.T) {
		a.Config.Universe.Start, a.Config.Universe.End = 1326, 1330
		ids, err := a.BuildUniverse(ctx, excl)
		require.NoError(t, err)
		assert.Equal(t, []string{"1326.T", "1327.T", "1329.T", "1330.T"}, ids)
	})

	t.Run("ticker file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "list.csv")
		require.NoError(t, os.WriteFile(path, []byte("ticker\n7203\n1328\nAAPL\n"), 0644))
		a.Config.Universe.TickersFile = path
		defer func() { a.Config.Universe.TickersFile = "" }()

		ids, err := a.BuildUniverse(ctx, excl)
		require.NoError(t, err)
		assert.Equal(t, []string{"7203.T", "AAPL"}, ids)
	})

	t.Run("explicit list wins over file", func(t *testing.T) {
		a.Config.Universe.Tickers = []string{"9984"}
		a.Config.Universe.TickersFile = "missing.csv"
		defer func() {
			a.Config.Universe.Tickers = nil
			a.Config.Universe.TickersFile = ""
		}()

		ids, err := a.BuildUniverse(ctx, excl)
		require.NoError(t, err)
		assert.Equal(t, []string{"9984.T"}, ids)
	})

	t.Run("cache directory", func(t *testing.T) {
		for _, id := range []string{"1301.T", "1001.T", "7203.T"} {
			require.NoError(t, a.Cache.Put(ctx, &models.BarSeries{Ticker: id, Interval: "1d", Bars: []models.Bar{
				{Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
			}}))
		}
		a.Config.Universe.FromCache = true
		defer func() { a.Config.Universe.FromCache = false }()

		ids, err := a.BuildUniverse(ctx, excl)
		require.NoError(t, err)
		assert.Equal(t, []string{"1301.T", "7203.T"}, ids)
	})
}

func TestRunScan_EndToEnd(t *testing.T) {
	srv, chartCalls := fakeYahoo(t, map[string][]week{
		"1301.T": pattern(week{110, 100}, week{100, 112}),
		"1332.T": pattern(week{100, 105}, week{105, 110}),
	})
	cfg := testConfig(t, srv.URL)
	cfg.Universe.Tickers = []string{"1301", "1332", "9999"}
	a := newTestApp(t, cfg)
	ctx := context.Background()

	report, err := a.RunScan(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "9999.T", report.Failures()[0].Ticker)
	assert.Equal(t, models.FailureNoUsableData, report.Failures()[0].Kind)
	assert.Equal(t, int32(3), atomic.LoadInt32(chartCalls), "one upstream call per instrument")

	data, err := os.ReadFile(cfg.Scan.Output)
	require.NoError(t, err)
	assert.Equal(t, "ticker,price\n1301.T,112.00\n", string(data))

	runs, err := a.Recorder.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].Matched)

	// fetched series were written through to the cache
	cached, err := a.Cache.Get(ctx, "1301.T")
	require.NoError(t, err)
	assert.Equal(t, 12, cached.Len())
}

func TestRunScan_SecondRunServedFromCache(t *testing.T) {
	srv, chartCalls := fakeYahoo(t, map[string][]week{
		"1301.T": pattern(week{110, 100}, week{100, 112}),
	})
	cfg := testConfig(t, srv.URL)
	cfg.Universe.Tickers = []string{"1301"}
	a := newTestApp(t, cfg)

	_, err := a.RunScan(context.Background())
	require.NoError(t, err)
	first := atomic.LoadInt32(chartCalls)

	report, err := a.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, atomic.LoadInt32(chartCalls))
	assert.Len(t, report.Matches, 1)
}

func TestRunScan_AsOf(t *testing.T) {
	srv, _ := fakeYahoo(t, map[string][]week{
		"1301.T": pattern(week{110, 100}, week{100, 112}, week{120, 118}, week{118, 115}),
	})
	cfg := testConfig(t, srv.URL)
	cfg.Universe.Tickers = []string{"1301"}
	a := newTestApp(t, cfg)

	current, err := a.RunScan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, current.Matches)

	a.Config.Scan.AsOf = "2024-03-20"
	past, err := a.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ScanModeAsOf, past.Mode)
	require.Len(t, past.Matches, 1)
	assert.Equal(t, 112.0, *past.Matches[0].Price)
}

func TestRunScan_AsOfColdCache(t *testing.T) {
	var mu sync.Mutex
	var period2 []string
	srv, _ := fakeYahoo(t, map[string][]week{
		"1301.T": pattern(week{110, 100}, week{100, 112}, week{120, 118}, week{118, 115}),
	})
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		period2 = append(period2, r.URL.Query().Get("period2"))
		mu.Unlock()
		http.Redirect(w, r, srv.URL+r.URL.RequestURI(), http.StatusTemporaryRedirect)
	}))
	t.Cleanup(proxy.Close)

	cfg := testConfig(t, proxy.URL)
	cfg.Universe.Tickers = []string{"1301"}
	cfg.Scan.AsOf = "2024-03-20"
	a := newTestApp(t, cfg)
	ctx := context.Background()

	past, err := a.RunScan(ctx)
	require.NoError(t, err)
	require.Len(t, past.Matches, 1)
	assert.Equal(t, 112.0, *past.Matches[0].Price)

	mu.Lock()
	require.NotEmpty(t, period2)
	for _, p := range period2 {
		assert.NotEmpty(t, p, "historical window is anchored at the cutoff")
	}
	mu.Unlock()

	// the historical window must not become the cached current series
	_, err = a.Cache.Get(ctx, "1301.T")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestScanConfig_AsOfAnchorsRequest(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	a := newTestApp(t, cfg)

	sc, err := a.ScanConfig()
	require.NoError(t, err)
	assert.True(t, sc.Request.End.IsZero())
	assert.Equal(t, 1, sc.Workers)

	a.Config.Scan.AsOf = "2024-03-20"
	sc, err = a.ScanConfig()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20", sc.Request.End.Format("2006-01-02"))
	assert.Equal(t, sc.AsOf, sc.Request.End)
	assert.Equal(t, a.Config.Scan.AsOfWorkers, sc.Workers)
}

func TestRunVerify_ImportsMissing(t *testing.T) {
	srv, _ := fakeYahoo(t, map[string][]week{
		"1301.T": pattern(),
	})
	cfg := testConfig(t, srv.URL)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	input := filepath.Join(t.TempDir(), "failures.log")
	require.NoError(t, os.WriteFile(input, []byte("Failed download: 1301.T\nFailed download: 9999.T (delisted)\n"), 0644))

	records, err := a.RunVerify(ctx, input, true)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ExistsYes, records[0].Exists)
	assert.Equal(t, models.ExistsNo, records[1].Exists)

	_, err = os.Stat(cfg.Exclusions.VerificationReport)
	require.NoError(t, err)

	excl, err := a.Exclusions.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, excl.Contains("9999.T"))
	assert.False(t, excl.Contains("1301.T"))
}

func TestImportVerificationReport(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	a := newTestApp(t, cfg)

	path := filepath.Join(t.TempDir(), "verified.csv")
	require.NoError(t, os.WriteFile(path, []byte("ticker,exists,rows,elapsed_s,note\n3333.T,no,0,1.2,\n7203.T,yes,21,0.3,\n4444.T,unknown,0,5.0,timeout\n"), 0644))

	n, err := a.ImportVerificationReport(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	excl, err := a.Exclusions.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, excl.Contains("3333.T"))
	assert.False(t, excl.Contains("4444.T"))
}
