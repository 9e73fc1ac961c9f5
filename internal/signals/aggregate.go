// Package signals aggregates bars into period candles and detects the
// weekly reversal configuration.
package signals

import (
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/weekscan/internal/models"
)

// Aggregate groups a series into candles for the given bucketing. Buckets are
// anchored to the calendar (weeks end Friday, months end on their last day)
// and never to where the input starts, so appending newer bars leaves every
// completed bucket unchanged. Empty buckets are omitted.
func Aggregate(series *models.BarSeries, bucketing models.Bucketing) ([]models.Candle, error) {
	keyOf, err := bucketFunc(bucketing)
	if err != nil {
		return nil, err
	}

	clean := series.Clean()
	if clean.Len() == 0 {
		return nil, nil
	}

	byEnd := make(map[time.Time]*models.Candle)
	var ends []time.Time
	for _, b := range clean.Bars {
		end := keyOf(b.Time)
		c, ok := byEnd[end]
		if !ok {
			byEnd[end] = &models.Candle{
				PeriodEnd: end,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				Bars:      1,
			}
			ends = append(ends, end)
			continue
		}
		// bars arrive in time order, so the latest bar sets the close
		if b.High > c.High {
			c.High = b.High
		}
		if b.Low < c.Low {
			c.Low = b.Low
		}
		c.Close = b.Close
		c.Volume += b.Volume
		c.Bars++
	}

	sort.Slice(ends, func(i, j int) bool { return ends[i].Before(ends[j]) })
	out := make([]models.Candle, len(ends))
	for i, end := range ends {
		out[i] = *byEnd[end]
	}
	return out, nil
}

func bucketFunc(bucketing models.Bucketing) (func(time.Time) time.Time, error) {
	switch bucketing {
	case models.BucketWeekly, "":
		return WeekEnd, nil
	case models.BucketMonthly:
		return MonthEnd, nil
	}
	return nil, fmt.Errorf("unknown bucketing '%s'", bucketing)
}

// WeekEnd returns the Friday on or after t's calendar date, as a UTC date.
// The date is read in t's own location.
func WeekEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// MonthEnd returns the last day of t's calendar month, as a UTC date.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}
