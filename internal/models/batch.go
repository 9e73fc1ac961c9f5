package models

import "fmt"

// BatchShape identifies which response variant a provider returned for a batch
type BatchShape string

const (
	ShapeEmpty            BatchShape = "empty"
	ShapeSingleInstrument BatchShape = "single_instrument"
	ShapeMultiInstrument  BatchShape = "multi_instrument"
)

// BatchResponse is the closed set of batch payload variants. The variant is
// decided once per batch by the provider adapter; Extract is typed per variant.
type BatchResponse interface {
	Shape() BatchShape
	Extract(ticker string) (*BarSeries, error)
	batchResponse()
}

// EmptyBatch is returned when the provider answered with no data at all
type EmptyBatch struct{}

func (EmptyBatch) Shape() BatchShape { return ShapeEmpty }

func (EmptyBatch) Extract(ticker string) (*BarSeries, error) {
	return nil, fmt.Errorf("%s: %w", ticker, ErrNoUsableData)
}

func (EmptyBatch) batchResponse() {}

// SingleInstrumentTable holds one instrument's bars
type SingleInstrumentTable struct {
	Ticker string
	Series *BarSeries
}

func (t *SingleInstrumentTable) Shape() BatchShape { return ShapeSingleInstrument }

func (t *SingleInstrumentTable) Extract(ticker string) (*BarSeries, error) {
	if ticker != t.Ticker || t.Series == nil {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoUsableData)
	}
	return t.Series, nil
}

func (t *SingleInstrumentTable) batchResponse() {}

// MultiInstrumentTable holds per-instrument sub-series keyed by ticker.
// Errors records instruments whose sub-series could not be decoded.
type MultiInstrumentTable struct {
	Series map[string]*BarSeries
	Errors map[string]error
}

func (t *MultiInstrumentTable) Shape() BatchShape { return ShapeMultiInstrument }

func (t *MultiInstrumentTable) Extract(ticker string) (*BarSeries, error) {
	if err, ok := t.Errors[ticker]; ok {
		return nil, err
	}
	s, ok := t.Series[ticker]
	if !ok || s == nil {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoUsableData)
	}
	return s, nil
}

func (t *MultiInstrumentTable) batchResponse() {}

// FetchResult maps every requested ticker to either a series or a failure
type FetchResult struct {
	Series   map[string]*BarSeries
	Failures map[string]*FetchError
}

// NewFetchResult returns an empty result.
func NewFetchResult() *FetchResult {
	return &FetchResult{
		Series:   make(map[string]*BarSeries),
		Failures: make(map[string]*FetchError),
	}
}

// Succeed records a resolved series.
func (r *FetchResult) Succeed(series *BarSeries) {
	delete(r.Failures, series.Ticker)
	r.Series[series.Ticker] = series
}

// Fail records a failure for ticker.
func (r *FetchResult) Fail(ticker string, kind FailureKind, err error) {
	delete(r.Series, ticker)
	r.Failures[ticker] = &FetchError{Ticker: ticker, Kind: kind, Err: err}
}
