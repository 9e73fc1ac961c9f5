// Package barcache implements the local per-instrument bar cache.
// Each instrument is one columnar JSON file, replaced wholesale on write.
package barcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
)

const ext = ".json"

// Store is a durable file mirror of provider bars. Reads take no lock;
// writes are serialized per ticker and published by rename, so a reader
// sees either the previous file or the new one.
type Store struct {
	dir    string
	logger *common.Logger
	locks  sync.Map // ticker -> *sync.Mutex
	now    func() time.Time
}

// entry is the on-disk layout
type entry struct {
	Ticker    string    `json:"ticker"`
	Interval  string    `json:"interval"`
	Timezone  string    `json:"timezone"`
	UpdatedAt time.Time `json:"updated_at"`
	Timestamp []int64   `json:"timestamp"`
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
}

// NewStore opens the cache directory, creating it if needed, and verifies it
// is writable. An unwritable directory is a startup failure.
func NewStore(logger *common.Logger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".tmp-probe-*")
	if err != nil {
		return nil, fmt.Errorf("cache dir %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	logger.Info().Str("path", dir).Msg("Bar cache opened")
	return &Store{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the cached series for ticker or models.ErrNotFound.
func (s *Store) Get(_ context.Context, ticker string) (*models.BarSeries, error) {
	path := s.path(ticker)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("'%s': %w", ticker, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("'%s' is empty", ticker)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return e.series()
}

// Put replaces the cached series for series.Ticker. The series is cleaned
// first; an empty result is rejected rather than written.
func (s *Store) Put(_ context.Context, series *models.BarSeries) error {
	if series == nil || series.Ticker == "" {
		return fmt.Errorf("cannot cache series without ticker")
	}
	clean := series.Clean()
	if clean.Len() == 0 {
		return fmt.Errorf("'%s': %w", series.Ticker, models.ErrNoUsableData)
	}

	mu := s.lock(series.Ticker)
	mu.Lock()
	defer mu.Unlock()

	data, err := json.Marshal(newEntry(clean, s.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", series.Ticker, err)
	}
	return writeAtomic(s.dir, s.path(series.Ticker), data)
}

// List returns the tickers present in the cache, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) lock(ticker string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(ticker, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) path(ticker string) string {
	return filepath.Join(s.dir, sanitizeKey(ticker)+ext)
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func writeAtomic(dir, target string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func newEntry(series *models.BarSeries, updated time.Time) entry {
	n := len(series.Bars)
	e := entry{
		Ticker:    series.Ticker,
		Interval:  series.Interval,
		Timezone:  series.Bars[0].Time.Location().String(),
		UpdatedAt: updated.UTC(),
		Timestamp: make([]int64, n),
		Open:      make([]float64, n),
		High:      make([]float64, n),
		Low:       make([]float64, n),
		Close:     make([]float64, n),
		Volume:    make([]float64, n),
	}
	for i, b := range series.Bars {
		e.Timestamp[i] = b.Time.Unix()
		e.Open[i] = b.Open
		e.High[i] = b.High
		e.Low[i] = b.Low
		e.Close[i] = b.Close
		e.Volume[i] = b.Volume
	}
	return e
}

func (e entry) series() (*models.BarSeries, error) {
	n := len(e.Timestamp)
	if len(e.Open) != n || len(e.High) != n || len(e.Low) != n || len(e.Close) != n || len(e.Volume) != n {
		return nil, fmt.Errorf("'%s': column length mismatch", e.Ticker)
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		loc = time.UTC
	}
	out := &models.BarSeries{Ticker: e.Ticker, Interval: e.Interval, Bars: make([]models.Bar, n)}
	for i := range e.Timestamp {
		out.Bars[i] = models.Bar{
			Time:   time.Unix(e.Timestamp[i], 0).In(loc),
			Open:   e.Open[i],
			High:   e.High[i],
			Low:    e.Low[i],
			Close:  e.Close[i],
			Volume: e.Volume[i],
		}
	}
	return out, nil
}
