package exclusiondb

import (
	"context"
	"testing"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(common.NewSilentLogger(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Add(ctx, []models.ExclusionEntry{
		{Ticker: "2235.T", Reason: "delisted", Source: models.ExclusionSourceVerification},
		{Ticker: "1328.T", Reason: "seed", Source: models.ExclusionSourceSeed},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1328.T", entries[0].Ticker)
	assert.Equal(t, "2235.T", entries[1].Ticker)
	assert.False(t, entries[0].AddedAt.IsZero())
}

func TestStore_AddIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, []models.ExclusionEntry{{Ticker: "2235.T", Reason: "first", Source: models.ExclusionSourceManual}})
	require.NoError(t, err)
	n, err := s.Add(ctx, []models.ExclusionEntry{{Ticker: "2235.T", Reason: "second", Source: models.ExclusionSourceVerification}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.Get(ctx, "2235.T")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Reason)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "0000.T")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_ListBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, []models.ExclusionEntry{
		{Ticker: "2235.T", Source: models.ExclusionSourceVerification},
		{Ticker: "1328.T", Source: models.ExclusionSourceSeed},
	})
	require.NoError(t, err)

	got, err := s.ListBySource(ctx, models.ExclusionSourceVerification)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2235.T", got[0].Ticker)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(common.NewSilentLogger(), dir)
	require.NoError(t, err)
	_, err = s.Add(ctx, []models.ExclusionEntry{{Ticker: "2089.T", Source: models.ExclusionSourceSeed}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewStore(common.NewSilentLogger(), dir)
	require.NoError(t, err)
	defer s2.Close()
	entries, err := s2.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2089.T", entries[0].Ticker)
}
