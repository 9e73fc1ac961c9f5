package models

import (
	"sort"
	"time"
)

// ScanMode identifies how a scan was scheduled
type ScanMode string

const (
	ScanModeSequential ScanMode = "sequential"
	ScanModeAsOf       ScanMode = "as_of"
)

// InstrumentState is the terminal state of one instrument within a scan
type InstrumentState string

const (
	StateMatched    InstrumentState = "matched"
	StateNotMatched InstrumentState = "not_matched"
	StateFailed     InstrumentState = "failed"
	StateExcluded   InstrumentState = "excluded"
)

// InstrumentOutcome is the final state of one instrument in a scan
type InstrumentOutcome struct {
	Ticker string          `json:"ticker"`
	State  InstrumentState `json:"state"`
	Source string          `json:"source,omitempty"` // "cache" or "provider"
	Kind   FailureKind     `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
	Signal *SignalResult   `json:"signal,omitempty"`
}

// ScanMatch is one matched instrument with its resolved reference price
type ScanMatch struct {
	Ticker string       `json:"ticker"`
	Price  *float64     `json:"price,omitempty"`
	Signal SignalResult `json:"signal"`
}

// ScanReport is the result of one scan run
type ScanReport struct {
	RunID      string              `json:"run_id"`
	Mode       ScanMode            `json:"mode"`
	AsOf       *time.Time          `json:"as_of,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Matches    []ScanMatch         `json:"matches"`
	Outcomes   []InstrumentOutcome `json:"outcomes"`
	Processed  int                 `json:"processed"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Excluded   int                 `json:"excluded"`
	Aborted    bool                `json:"aborted,omitempty"`
}

// Failures returns the failed outcomes.
func (r *ScanReport) Failures() []InstrumentOutcome {
	var out []InstrumentOutcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// SortMatches orders matches by price ascending with unresolved prices last.
// Ties break on ticker so the order is stable across runs.
func SortMatches(matches []ScanMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := matches[i].Price, matches[j].Price
		switch {
		case pi == nil && pj == nil:
			return matches[i].Ticker < matches[j].Ticker
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		}
		return matches[i].Ticker < matches[j].Ticker
	})
}

// ScanRunSummary is a recorded scan run as listed from history
type ScanRunSummary struct {
	RunID      string     `json:"run_id"`
	Mode       ScanMode   `json:"mode"`
	AsOf       *time.Time `json:"as_of,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Excluded   int        `json:"excluded"`
	Matched    int        `json:"matched"`
}
