package signals

import (
	"math"

	"github.com/bobmcallan/weekscan/internal/models"
)

// SMA returns the arithmetic mean of the last period values. It reports
// false when fewer than period values exist or any of them is not finite.
func SMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		sum += v
	}
	return sum / float64(period), true
}

// Closes extracts candle closes, oldest first.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
