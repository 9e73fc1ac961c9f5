// Package exclusiondb persists permanent instrument exclusions using BadgerHold.
package exclusiondb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Store implements interfaces.ExclusionStore. Entries are keyed by ticker and
// never updated or removed once written.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// NewStore opens (or creates) the exclusion database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create exclusion db path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion db at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("ExclusionDB opened")
	return &Store{db: db, logger: logger}, nil
}

// List returns every stored exclusion ordered by ticker.
func (s *Store) List(_ context.Context) ([]models.ExclusionEntry, error) {
	var entries []models.ExclusionEntry
	if err := s.db.Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list exclusions: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ticker < entries[j].Ticker })
	return entries, nil
}

// ListBySource returns stored exclusions recorded by the given source.
func (s *Store) ListBySource(_ context.Context, source string) ([]models.ExclusionEntry, error) {
	var entries []models.ExclusionEntry
	if err := s.db.Find(&entries, badgerhold.Where("Source").Eq(source)); err != nil {
		return nil, fmt.Errorf("failed to list exclusions for source '%s': %w", source, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ticker < entries[j].Ticker })
	return entries, nil
}

// Get returns the stored entry for ticker.
func (s *Store) Get(_ context.Context, ticker string) (*models.ExclusionEntry, error) {
	var entry models.ExclusionEntry
	if err := s.db.Get(ticker, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("exclusion '%s': %w", ticker, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get exclusion '%s': %w", ticker, err)
	}
	return &entry, nil
}

// Add inserts entries whose ticker is not yet stored. Existing entries keep
// their original reason and timestamp. Returns the number inserted.
func (s *Store) Add(_ context.Context, entries []models.ExclusionEntry) (int, error) {
	added := 0
	for _, e := range entries {
		if e.Ticker == "" {
			continue
		}
		if e.AddedAt.IsZero() {
			e.AddedAt = time.Now().UTC()
		}
		if err := s.db.Insert(e.Ticker, e); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				continue
			}
			return added, fmt.Errorf("failed to add exclusion '%s': %w", e.Ticker, err)
		}
		added++
		s.logger.Debug().Str("ticker", e.Ticker).Str("source", e.Source).Msg("Exclusion added")
	}
	return added, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
