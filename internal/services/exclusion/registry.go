// Package exclusion owns the permanent exclusion list. It is the only writer
// of the exclusion store; every run works from an immutable snapshot.
package exclusion

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/interfaces"
	"github.com/bobmcallan/weekscan/internal/models"
	"github.com/bobmcallan/weekscan/internal/services/universe"
)

// Registry merges the static seed with persisted exclusions
type Registry struct {
	store  interfaces.ExclusionStore
	seed   []string
	width  int
	suffix string
	logger *common.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. Every id it takes in, seeded or recorded,
// is normalized with width and suffix so bare codes like "1328" match "1328.T".
func NewRegistry(store interfaces.ExclusionStore, seed []string, width int, suffix string, logger *common.Logger) *Registry {
	return &Registry{
		store:  store,
		seed:   universe.BuildList(seed, width, suffix, nil),
		width:  width,
		suffix: suffix,
		logger: logger,
		now:    time.Now,
	}
}

// Normalize applies the registry's code width and suffix to ids, dropping
// blanks and duplicates.
func (r *Registry) Normalize(ids []string) []string {
	return universe.BuildList(ids, r.width, r.suffix, nil)
}

// Snapshot returns the exclusion set for a run: seed plus every stored entry.
func (r *Registry) Snapshot(ctx context.Context) (*models.ExclusionSet, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}
	ids := append([]string(nil), r.seed...)
	for _, e := range entries {
		ids = append(ids, e.Ticker)
	}
	set := models.NewExclusionSet(ids...)
	r.logger.Info().Int("seed", len(r.seed)).Int("stored", len(entries)).Int("total", set.Len()).Msg("Exclusion snapshot loaded")
	return set, nil
}

// Entries returns the seed (as synthetic entries) followed by stored entries.
func (r *Registry) Entries(ctx context.Context) ([]models.ExclusionEntry, error) {
	stored, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}
	out := make([]models.ExclusionEntry, 0, len(r.seed)+len(stored))
	for _, id := range r.seed {
		out = append(out, models.ExclusionEntry{Ticker: id, Source: models.ExclusionSourceSeed, Reason: "static seed"})
	}
	return append(out, stored...), nil
}

// EntriesBySource returns the entries recorded by one source. The seed
// source lists the static seed.
func (r *Registry) EntriesBySource(ctx context.Context, source string) ([]models.ExclusionEntry, error) {
	if source == models.ExclusionSourceSeed {
		out := make([]models.ExclusionEntry, 0, len(r.seed))
		for _, id := range r.seed {
			out = append(out, models.ExclusionEntry{Ticker: id, Source: models.ExclusionSourceSeed, Reason: "static seed"})
		}
		return out, nil
	}
	return r.store.ListBySource(ctx, source)
}

// Lookup returns the entry excluding ticker, or models.ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, ticker string) (*models.ExclusionEntry, error) {
	ids := r.Normalize([]string{ticker})
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty ticker: %w", models.ErrNotFound)
	}
	for _, id := range r.seed {
		if id == ids[0] {
			return &models.ExclusionEntry{Ticker: id, Source: models.ExclusionSourceSeed, Reason: "static seed"}, nil
		}
	}
	return r.store.Get(ctx, ids[0])
}

// RecordPermanent appends exclusions. They take effect from the next snapshot.
func (r *Registry) RecordPermanent(ctx context.Context, source, reason string, tickers ...string) (int, error) {
	now := r.now().UTC()
	ids := r.Normalize(tickers)
	entries := make([]models.ExclusionEntry, 0, len(ids))
	for _, t := range ids {
		entries = append(entries, models.ExclusionEntry{Ticker: t, Reason: reason, Source: source, AddedAt: now})
	}
	n, err := r.store.Add(ctx, entries)
	if err != nil {
		return n, err
	}
	if n > 0 {
		r.logger.Info().Int("added", n).Str("source", source).Msg("Permanent exclusions recorded")
	}
	return n, nil
}

// ImportVerification appends every record whose verdict is "no". Unknown
// verdicts (transient errors during verification) are not excluded. Report
// tickers are normalized, so a bare "1328" row excludes "1328.T".
func (r *Registry) ImportVerification(ctx context.Context, records []models.VerificationRecord) (int, error) {
	var missing []string
	for _, rec := range records {
		if rec.Exists == models.ExistsNo {
			missing = append(missing, rec.Ticker)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	return r.RecordPermanent(ctx, models.ExclusionSourceVerification, "verified missing", missing...)
}
