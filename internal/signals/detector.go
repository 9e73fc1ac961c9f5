package signals

import "github.com/bobmcallan/weekscan/internal/models"

// DetectorConfig selects which conditions must hold for a match.
// Disabling both makes every series with two candles match.
type DetectorConfig struct {
	RequireEngulfing     bool
	RequireMovingAverage bool
	// RelaxedEngulfing also accepts curr.close >= prev.open when the bodies
	// do not engulf
	RelaxedEngulfing    bool
	MovingAverageWindow int
}

// IsBullishEngulfing reports whether curr engulfs a bearish prev. Strict mode
// accepts real-body engulfment (curr.open <= prev.close and curr.close >=
// prev.open) or wick engulfment (curr.open <= prev.low and curr.close >=
// prev.high). Bounds are inclusive.
func IsBullishEngulfing(prev, curr models.Candle, relaxed bool) bool {
	if !prev.Bearish() || !curr.Bullish() {
		return false
	}
	body := curr.Open <= prev.Close && curr.Close >= prev.Open
	wick := curr.Open <= prev.Low && curr.Close >= prev.High
	if body || wick {
		return true
	}
	return relaxed && curr.Close >= prev.Open
}

// IsBearishEngulfing reports whether a bearish curr engulfs a bullish prev body.
func IsBearishEngulfing(prev, curr models.Candle) bool {
	if !prev.Bullish() || !curr.Bearish() {
		return false
	}
	return curr.Open >= prev.Close && curr.Close <= prev.Open
}

// Detect evaluates the last two candles. Too little history is a non-match,
// never an error. The latest close and, when computable, the moving average
// are always reported.
func Detect(ticker string, candles []models.Candle, cfg DetectorConfig) models.SignalResult {
	res := models.SignalResult{
		Ticker:      ticker,
		PatternKind: models.PatternNone,
		Candles:     len(candles),
	}
	if len(candles) < 2 {
		res.Reason = models.ReasonInsufficientHistory
		if len(candles) == 1 {
			res.ReferenceClose = candles[0].Close
			res.PeriodEnd = candles[0].PeriodEnd
		}
		return res
	}

	prev, curr := candles[len(candles)-2], candles[len(candles)-1]
	res.ReferenceClose = curr.Close
	res.PeriodEnd = curr.PeriodEnd

	ma, haveMA := SMA(Closes(candles), cfg.MovingAverageWindow)
	if haveMA {
		res.MovingAverage = &ma
	}

	bullish := IsBullishEngulfing(prev, curr, cfg.RelaxedEngulfing)
	switch {
	case bullish:
		res.PatternKind = models.PatternBullishEngulfing
	case IsBearishEngulfing(prev, curr):
		res.PatternKind = models.PatternBearishEngulfing
	}

	matched := true
	if cfg.RequireMovingAverage && !haveMA {
		matched = false
		res.Reason = models.ReasonInsufficientHistory
	}
	if cfg.RequireEngulfing && !bullish {
		matched = false
		if res.Reason == "" {
			res.Reason = models.ReasonNoEngulfing
		}
	}
	if cfg.RequireMovingAverage && haveMA && curr.Close < ma {
		matched = false
		if res.Reason == "" {
			res.Reason = models.ReasonBelowMovingAverage
		}
	}

	res.Matched = matched
	if matched && !bullish && cfg.RequireMovingAverage {
		res.PatternKind = models.PatternMAOnly
	}
	return res
}
