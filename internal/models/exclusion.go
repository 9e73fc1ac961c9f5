package models

import (
	"sort"
	"time"
)

// Exclusion sources
const (
	ExclusionSourceSeed         = "seed"
	ExclusionSourceVerification = "verification"
	ExclusionSourceManual       = "manual"
)

// ExclusionEntry is one persisted permanent exclusion
type ExclusionEntry struct {
	Ticker  string    `json:"ticker"`
	Reason  string    `json:"reason"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"added_at"`
}

// ExclusionSet is an immutable snapshot of excluded tickers taken at the
// start of a run. Additions produce a new set.
type ExclusionSet struct {
	ids map[string]struct{}
}

// NewExclusionSet builds a snapshot from the given tickers.
func NewExclusionSet(tickers ...string) *ExclusionSet {
	ids := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		if t != "" {
			ids[t] = struct{}{}
		}
	}
	return &ExclusionSet{ids: ids}
}

// Contains reports whether ticker is excluded. A nil set excludes nothing.
func (s *ExclusionSet) Contains(ticker string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[ticker]
	return ok
}

// Len returns the number of excluded tickers.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Tickers returns the excluded tickers sorted.
func (s *ExclusionSet) Tickers() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for t := range s.ids {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// VerificationRecord is one row of an instrument existence report
type VerificationRecord struct {
	Ticker  string        `json:"ticker"`
	Exists  string        `json:"exists"` // "yes", "no" or "unknown"
	Rows    int           `json:"rows"`
	Elapsed time.Duration `json:"elapsed"`
	Note    string        `json:"note,omitempty"`
}

// Verification verdicts
const (
	ExistsYes     = "yes"
	ExistsNo      = "no"
	ExistsUnknown = "unknown"
)
