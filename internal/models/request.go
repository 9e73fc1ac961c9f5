package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HistoryRequest describes the bar history asked of a provider.
// Start/End take precedence over Period when End is set.
type HistoryRequest struct {
	Period   string    `json:"period"`   // e.g. "2y", "6mo", "1mo", "5d"
	Interval string    `json:"interval"` // e.g. "1d", "1wk"
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// Window resolves the request into an absolute [from, to] range.
func (r HistoryRequest) Window(now time.Time) (time.Time, time.Time, error) {
	if !r.End.IsZero() {
		from := r.Start
		if from.IsZero() {
			back, err := r.lookback(r.End)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			from = back
		}
		return from, r.End, nil
	}
	from, err := r.lookback(now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, now, nil
}

func (r HistoryRequest) lookback(to time.Time) (time.Time, error) {
	years, months, days, err := ParsePeriod(r.Period)
	if err != nil {
		return time.Time{}, err
	}
	return to.AddDate(-years, -months, -days), nil
}

// ParsePeriod parses provider-style period strings ("2y", "6mo", "3wk", "5d").
func ParsePeriod(period string) (years, months, days int, err error) {
	p := strings.ToLower(strings.TrimSpace(period))
	units := []struct {
		suffix string
		apply  func(n int)
	}{
		{"mo", func(n int) { months = n }},
		{"wk", func(n int) { days = n * 7 }},
		{"y", func(n int) { years = n }},
		{"d", func(n int) { days = n }},
	}
	for _, u := range units {
		if !strings.HasSuffix(p, u.suffix) {
			continue
		}
		n, convErr := strconv.Atoi(strings.TrimSuffix(p, u.suffix))
		if convErr != nil || n <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid period '%s'", period)
		}
		u.apply(n)
		return years, months, days, nil
	}
	return 0, 0, 0, fmt.Errorf("invalid period '%s'", period)
}
