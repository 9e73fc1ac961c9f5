package interfaces

import (
	"context"

	"github.com/bobmcallan/weekscan/internal/models"
)

// FetchClient resolves bars for many instruments, writing successes through
// to the cache. Every requested ticker appears in the result either as a
// series or as a failure.
type FetchClient interface {
	FetchBatch(ctx context.Context, tickers []string, req models.HistoryRequest) *models.FetchResult
}
