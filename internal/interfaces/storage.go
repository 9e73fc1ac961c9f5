package interfaces

import (
	"context"

	"github.com/bobmcallan/weekscan/internal/models"
)

// BarCache is the durable per-instrument mirror of provider bars.
// Get never touches the network and returns models.ErrNotFound on a miss.
type BarCache interface {
	Get(ctx context.Context, ticker string) (*models.BarSeries, error)
	Put(ctx context.Context, series *models.BarSeries) error
	List(ctx context.Context) ([]string, error)
}

// ExclusionStore persists permanent exclusions. Entries are only ever appended.
type ExclusionStore interface {
	List(ctx context.Context) ([]models.ExclusionEntry, error)
	ListBySource(ctx context.Context, source string) ([]models.ExclusionEntry, error)
	// Get returns models.ErrNotFound for tickers never stored
	Get(ctx context.Context, ticker string) (*models.ExclusionEntry, error)
	// Add stores entries not already present and returns how many were new
	Add(ctx context.Context, entries []models.ExclusionEntry) (int, error)
	Close() error
}

// ScanRecorder keeps a history of scan runs
type ScanRecorder interface {
	RecordScan(ctx context.Context, report *models.ScanReport) error
	RecentRuns(ctx context.Context, limit int) ([]models.ScanRunSummary, error)
	Close() error
}
