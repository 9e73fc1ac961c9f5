// Package interfaces defines service contracts for weekscan
package interfaces

import (
	"context"

	"github.com/bobmcallan/weekscan/internal/models"
)

// Provider is a market data source queried by instrument, period and interval
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// FetchBatch requests bars for several instruments in one call. The
	// returned variant is decided once for the whole batch.
	FetchBatch(ctx context.Context, tickers []string, req models.HistoryRequest) (models.BatchResponse, error)

	// FetchOne requests bars for a single instrument
	FetchOne(ctx context.Context, ticker string, req models.HistoryRequest) (*models.BarSeries, error)
}
