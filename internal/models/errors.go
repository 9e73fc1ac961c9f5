package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the bar cache when no entry exists for a ticker
	ErrNotFound = errors.New("not found")
	// ErrNoUsableData means the provider answered but nothing parseable came back
	ErrNoUsableData = errors.New("no usable data")
	// ErrMalformedResponse means a batch payload matched none of the known shapes
	ErrMalformedResponse = errors.New("malformed response shape")
	// ErrExcluded is recorded for instruments in the exclusion set; no I/O is attempted
	ErrExcluded = errors.New("instrument excluded")
	// ErrBatchUnsupported is returned by providers without a multi-instrument endpoint
	ErrBatchUnsupported = errors.New("batch requests not supported")
	// ErrCircuitOpen is returned while the provider circuit breaker rejects calls
	ErrCircuitOpen = errors.New("provider circuit open")
)

// FailureKind classifies a per-instrument failure
type FailureKind string

const (
	FailureTransient         FailureKind = "transient"
	FailureNoUsableData      FailureKind = "no_usable_data"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureCacheIO           FailureKind = "cache_io"
	FailureExcluded          FailureKind = "excluded"
	FailureEvaluation        FailureKind = "evaluation"
)

// FetchError records why one instrument could not be resolved
type FetchError struct {
	Ticker string
	Kind   FailureKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Ticker, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, defaulting to transient.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrExcluded):
		return FailureExcluded
	case errors.Is(err, ErrNoUsableData):
		return FailureNoUsableData
	case errors.Is(err, ErrMalformedResponse):
		return FailureMalformedResponse
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return FailureNoUsableData
	}
	return FailureTransient
}

// APIError represents a non-200 answer from a market data provider
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d, endpoint: %s)", e.Provider, e.Message, e.StatusCode, e.Endpoint)
}

// Retryable reports whether the status indicates throttling or a server fault.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
