package history

import (
	"context"

	"github.com/bobmcallan/weekscan/internal/models"
)

// NoopRecorder is used when no history database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordScan(_ context.Context, _ *models.ScanReport) error { return nil }
func (n *NoopRecorder) RecentRuns(_ context.Context, _ int) ([]models.ScanRunSummary, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
