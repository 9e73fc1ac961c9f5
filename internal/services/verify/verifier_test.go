package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
)

type mockProvider struct {
	calls map[string]int
	oneFn func(ticker string) (*models.BarSeries, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) FetchBatch(_ context.Context, _ []string, _ models.HistoryRequest) (models.BatchResponse, error) {
	return nil, models.ErrBatchUnsupported
}

func (m *mockProvider) FetchOne(_ context.Context, ticker string, req models.HistoryRequest) (*models.BarSeries, error) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[ticker]++
	return m.oneFn(ticker)
}

func series(n int) *models.BarSeries {
	s := &models.BarSeries{Interval: "1d"}
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Bars = append(s.Bars, models.Bar{Time: start.AddDate(0, 0, i), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1})
	}
	return s
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestVerify_Verdicts(t *testing.T) {
	transient := &models.APIError{StatusCode: 503, Message: "unavailable"}
	p := &mockProvider{oneFn: func(ticker string) (*models.BarSeries, error) {
		switch ticker {
		case "7203.T":
			return series(21), nil
		case "2235.T":
			return nil, models.ErrNoUsableData
		case "1328.T":
			return nil, &models.APIError{StatusCode: 404, Message: "not found"}
		case "1541.T":
			return &models.BarSeries{}, nil
		default:
			return nil, transient
		}
	}}
	v := NewVerifier(p, common.NewSilentLogger(), WithRetry(2, time.Millisecond), WithSleeper(noSleep))

	records := v.Verify(context.Background(), []string{"7203.T", "2235.T", "1328.T", "1541.T", "9999.T"})
	require.Len(t, records, 5)

	got := map[string]models.VerificationRecord{}
	for _, r := range records {
		got[r.Ticker] = r
	}
	assert.Equal(t, models.ExistsYes, got["7203.T"].Exists)
	assert.Equal(t, 21, got["7203.T"].Rows)
	assert.Equal(t, models.ExistsNo, got["2235.T"].Exists)
	assert.Equal(t, models.ExistsNo, got["1328.T"].Exists)
	assert.Equal(t, models.ExistsNo, got["1541.T"].Exists)
	assert.Equal(t, models.ExistsUnknown, got["9999.T"].Exists)

	// transient errors use the full retry budget, definitive ones do not
	assert.Equal(t, 3, p.calls["9999.T"])
	assert.Equal(t, 1, p.calls["2235.T"])
	assert.Equal(t, "7203.T", records[0].Ticker)
}

func TestVerify_PanicIsUnknownNotFatal(t *testing.T) {
	p := &mockProvider{oneFn: func(ticker string) (*models.BarSeries, error) {
		if ticker == "1301.T" {
			panic("boom")
		}
		return series(5), nil
	}}
	v := NewVerifier(p, common.NewSilentLogger(), WithSleeper(noSleep))

	records := v.Verify(context.Background(), []string{"1301.T", "1332.T"})
	require.Len(t, records, 2)
	assert.Equal(t, models.ExistsUnknown, records[0].Exists)
	assert.Equal(t, models.ExistsYes, records[1].Exists)
}

func TestVerify_CancelledContext(t *testing.T) {
	p := &mockProvider{oneFn: func(string) (*models.BarSeries, error) {
		return nil, errors.New("should not be called")
	}}
	v := NewVerifier(p, common.NewSilentLogger(), WithSleeper(noSleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records := v.Verify(ctx, []string{"1301.T", "1332.T"})
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, models.ExistsUnknown, r.Exists)
	}
	assert.Empty(t, p.calls)
}

func TestVerify_PausesBetweenInstruments(t *testing.T) {
	var waits []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	p := &mockProvider{oneFn: func(string) (*models.BarSeries, error) { return series(2), nil }}
	v := NewVerifier(p, common.NewSilentLogger(), WithPause(500*time.Millisecond), WithSleeper(sleeper))

	v.Verify(context.Background(), []string{"1301.T", "1332.T", "1333.T"})
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, waits)
}
