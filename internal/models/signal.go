package models

import "time"

// PatternKind names the two-candle pattern found on the latest candles
type PatternKind string

const (
	PatternNone             PatternKind = "none"
	PatternBullishEngulfing PatternKind = "bullish_engulfing"
	PatternBearishEngulfing PatternKind = "bearish_engulfing"
	PatternMAOnly           PatternKind = "ma_only"
)

// Reasons a SignalResult did not match
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonNoEngulfing         = "no_engulfing"
	ReasonBelowMovingAverage  = "below_moving_average"
)

// SignalResult is the verdict of the pattern detector for one instrument.
// It is produced once per instrument per scan and not modified afterwards.
type SignalResult struct {
	Ticker         string      `json:"ticker"`
	Matched        bool        `json:"matched"`
	PatternKind    PatternKind `json:"pattern_kind"`
	ReferenceClose float64     `json:"reference_close"`
	MovingAverage  *float64    `json:"moving_average,omitempty"`
	PeriodEnd      time.Time   `json:"period_end,omitempty"`
	Candles        int         `json:"candles"`
	Reason         string      `json:"reason,omitempty"`
}
