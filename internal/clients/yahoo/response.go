package yahoo

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/bobmcallan/weekscan/internal/models"
)

type chartEnvelope struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// series converts the columnar chart payload into bars. Null prices become
// NaN so the bar is dropped when the series is cleaned.
func (r chartResult) series(ticker, interval string) (*models.BarSeries, error) {
	if len(r.Timestamp) == 0 || len(r.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, models.ErrNoUsableData)
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(q.Close) != n {
		return nil, fmt.Errorf("%s: close column has %d values for %d timestamps: %w", ticker, len(q.Close), n, models.ErrMalformedResponse)
	}

	loc := time.UTC
	if r.Meta.ExchangeTimezoneName != "" {
		if l, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			loc = l
		}
	}

	out := &models.BarSeries{Ticker: ticker, Interval: interval, Bars: make([]models.Bar, n)}
	for i, ts := range r.Timestamp {
		out.Bars[i] = models.Bar{
			Time:   time.Unix(ts, 0).In(loc),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  at(q.Close, i),
			Volume: at(q.Volume, i),
		}
	}
	return out, nil
}

func at(col []*float64, i int) float64 {
	if i >= len(col) || col[i] == nil {
		return math.NaN()
	}
	return *col[i]
}

// decodeChart parses a chart endpoint body for ticker. A chart-level error
// or an empty result is models.ErrNoUsableData.
func decodeChart(body []byte, ticker, interval string) (*models.BarSeries, error) {
	var env chartEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", ticker, models.ErrMalformedResponse, err)
	}
	if env.Chart.Error != nil {
		return nil, fmt.Errorf("%s: %s: %w", ticker, env.Chart.Error.Description, models.ErrNoUsableData)
	}
	switch len(env.Chart.Result) {
	case 0:
		return nil, fmt.Errorf("%s: %w", ticker, models.ErrNoUsableData)
	case 1:
	default:
		return nil, fmt.Errorf("%s: chart envelope with %d results: %w", ticker, len(env.Chart.Result), models.ErrMalformedResponse)
	}
	return env.Chart.Result[0].series(ticker, interval)
}
