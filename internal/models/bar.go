// Package models defines data structures for weekscan
package models

import (
	"math"
	"sort"
	"time"
)

// Bar is a single OHLCV observation at the series' native interval
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar carries positive finite prices.
// A missing close is represented as NaN by the provider adapters.
func (b Bar) Valid() bool {
	return positiveFinite(b.Open) && positiveFinite(b.High) &&
		positiveFinite(b.Low) && positiveFinite(b.Close)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BarSeries is an ordered sequence of bars for one instrument at one interval
type BarSeries struct {
	Ticker   string `json:"ticker"`
	Interval string `json:"interval"`
	Bars     []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s *BarSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Clean returns a copy with invalid bars dropped, bars sorted by time and
// duplicate timestamps collapsed (the later observation wins). Missing or
// negative volume is stored as zero.
func (s *BarSeries) Clean() *BarSeries {
	out := &BarSeries{}
	if s == nil {
		return out
	}
	out.Ticker = s.Ticker
	out.Interval = s.Interval

	bars := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		if !b.Valid() {
			continue
		}
		if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
			b.Volume = 0
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	deduped := bars[:0]
	for _, b := range bars {
		if n := len(deduped); n > 0 && deduped[n-1].Time.Equal(b.Time) {
			deduped[n-1] = b
			continue
		}
		deduped = append(deduped, b)
	}
	out.Bars = deduped
	return out
}

// Truncate returns a copy holding only bars on or before the as-of date.
// The cutoff covers the whole calendar day of asOf in each bar's location.
func (s *BarSeries) Truncate(asOf time.Time) *BarSeries {
	out := &BarSeries{}
	if s == nil {
		return out
	}
	out.Ticker = s.Ticker
	out.Interval = s.Interval
	y, m, d := asOf.Date()
	for _, b := range s.Bars {
		by, bm, bd := b.Time.Date()
		if by < y || (by == y && (bm < m || (bm == m && bd <= d))) {
			out.Bars = append(out.Bars, b)
		}
	}
	return out
}

// LastClose returns the close of the most recent bar.
func (s *BarSeries) LastClose() (float64, bool) {
	if s.Len() == 0 {
		return 0, false
	}
	return s.Bars[len(s.Bars)-1].Close, true
}

// Bucketing selects the coarser period bars are aggregated into
type Bucketing string

const (
	BucketWeekly  Bucketing = "weekly"  // weeks ending Friday
	BucketMonthly Bucketing = "monthly" // calendar months
)

// Candle is one aggregated OHLCV bucket
type Candle struct {
	PeriodEnd time.Time `json:"period_end"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Bars      int       `json:"bars"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }
