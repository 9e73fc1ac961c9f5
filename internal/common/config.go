package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for weekscan
type Config struct {
	Environment string           `toml:"environment" yaml:"environment"`
	Universe    UniverseConfig   `toml:"universe" yaml:"universe"`
	Fetch       FetchConfig      `toml:"fetch" yaml:"fetch"`
	Scan        ScanConfig       `toml:"scan" yaml:"scan"`
	Storage     StorageConfig    `toml:"storage" yaml:"storage"`
	Provider    ProviderConfig   `toml:"provider" yaml:"provider"`
	Exclusions  ExclusionsConfig `toml:"exclusions" yaml:"exclusions"`
	Schedule    ScheduleConfig   `toml:"schedule" yaml:"schedule"`
	Logging     LoggingConfig    `toml:"logging" yaml:"logging"`
}

// UniverseConfig selects the instruments to scan. An explicit list (Tickers
// or TickersFile) takes precedence over the numeric range.
type UniverseConfig struct {
	Start       int      `toml:"start" yaml:"start"`
	End         int      `toml:"end" yaml:"end"`
	Width       int      `toml:"width" yaml:"width"`
	Suffix      string   `toml:"suffix" yaml:"suffix"`
	Tickers     []string `toml:"tickers" yaml:"tickers"`
	TickersFile string   `toml:"tickers_file" yaml:"tickers_file"`
	FromCache   bool     `toml:"from_cache" yaml:"from_cache"`
	MinCode     int      `toml:"min_code" yaml:"min_code"`
}

// FetchConfig holds batched fetch settings
type FetchConfig struct {
	BatchSize           int    `toml:"batch_size" yaml:"batch_size"`
	RetryCount          int    `toml:"retry_count" yaml:"retry_count"`
	BackoffBase         string `toml:"backoff_base" yaml:"backoff_base"`
	SleepBetweenBatches string `toml:"sleep_between_batches" yaml:"sleep_between_batches"`
	Timeout             string `toml:"timeout" yaml:"timeout"`
	Period              string `toml:"period" yaml:"period"`
	Interval            string `toml:"interval" yaml:"interval"`
	RateLimit           int    `toml:"rate_limit" yaml:"rate_limit"` // requests per second
	Parallel            int    `toml:"parallel" yaml:"parallel"`     // provider requests in flight per batch
}

// GetBackoffBase parses and returns the retry backoff base
func (c *FetchConfig) GetBackoffBase() time.Duration {
	return parseDuration(c.BackoffBase, time.Second)
}

// GetSleepBetweenBatches parses and returns the pause between batches
func (c *FetchConfig) GetSleepBetweenBatches() time.Duration {
	return parseDuration(c.SleepBetweenBatches, time.Second)
}

// GetTimeout parses and returns the per-call timeout
func (c *FetchConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// ScanConfig holds scan orchestration and detector settings
type ScanConfig struct {
	ChunkSize          int    `toml:"chunk_size" yaml:"chunk_size"`
	Workers            int    `toml:"workers" yaml:"workers"`
	AsOfWorkers        int    `toml:"as_of_workers" yaml:"as_of_workers"`
	SleepBetweenChunks string `toml:"sleep_between_chunks" yaml:"sleep_between_chunks"`
	ShortWindow        int    `toml:"short_window" yaml:"short_window"`
	LongWindow         int    `toml:"long_window" yaml:"long_window"`
	RequireMA          bool   `toml:"require_ma" yaml:"require_ma"`
	RequireEngulfing   bool   `toml:"require_engulfing" yaml:"require_engulfing"`
	RelaxedEngulfing   bool   `toml:"relaxed_engulfing" yaml:"relaxed_engulfing"`
	AsOf               string `toml:"as_of" yaml:"as_of"` // YYYY-MM-DD
	Bucket             string `toml:"bucket" yaml:"bucket"`
	PricePeriod        string `toml:"price_period" yaml:"price_period"`
	Output             string `toml:"output" yaml:"output"`
}

// GetSleepBetweenChunks parses and returns the pause between chunks
func (c *ScanConfig) GetSleepBetweenChunks() time.Duration {
	return parseDuration(c.SleepBetweenChunks, 0)
}

// GetAsOf parses the as-of date. A zero time means no cutoff.
func (c *ScanConfig) GetAsOf() (time.Time, error) {
	if c.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of date '%s': %w", c.AsOf, err)
	}
	return t, nil
}

// StorageConfig holds paths for the three storage areas
type StorageConfig struct {
	CacheDir    string `toml:"cache_dir" yaml:"cache_dir"`       // per-instrument bar files
	ExclusionDB string `toml:"exclusion_db" yaml:"exclusion_db"` // BadgerHold directory
	HistoryDB   string `toml:"history_db" yaml:"history_db"`     // SQLite file; empty disables history
}

// ProviderConfig selects and configures the market data provider
type ProviderConfig struct {
	Name  string      `toml:"name" yaml:"name"`
	Yahoo YahooConfig `toml:"yahoo" yaml:"yahoo"`
	EODHD EODHDConfig `toml:"eodhd" yaml:"eodhd"`
}

// YahooConfig holds Yahoo Finance API configuration
type YahooConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string            `toml:"base_url" yaml:"base_url"`
	APIKey    string            `toml:"api_key" yaml:"api_key"`
	SuffixMap map[string]string `toml:"suffix_map" yaml:"suffix_map"`
}

// ExclusionsConfig holds the static exclusion seed and report location
type ExclusionsConfig struct {
	Seed               []string `toml:"seed" yaml:"seed"`
	VerificationReport string   `toml:"verification_report" yaml:"verification_report"`
}

// ScheduleConfig holds recurring scan settings
type ScheduleConfig struct {
	Cron        string `toml:"cron" yaml:"cron"` // six fields, seconds first
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level" yaml:"level"`
	Format   string   `toml:"format" yaml:"format"`
	Outputs  []string `toml:"outputs" yaml:"outputs"`
	FilePath string   `toml:"file_path" yaml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Universe: UniverseConfig{
			Start:   1300,
			End:     9999,
			Width:   4,
			Suffix:  ".T",
			MinCode: 1300,
		},
		Fetch: FetchConfig{
			BatchSize:           200,
			RetryCount:          2,
			BackoffBase:         "1s",
			SleepBetweenBatches: "1s",
			Timeout:             "30s",
			Period:              "2y",
			Interval:            "1d",
			RateLimit:           5,
			Parallel:            4,
		},
		Scan: ScanConfig{
			ChunkSize:        500,
			Workers:          1,
			AsOfWorkers:      8,
			ShortWindow:      10,
			LongWindow:       52,
			RequireMA:        true,
			RequireEngulfing: true,
			Bucket:           "weekly",
			PricePeriod:      "5d",
			Output:           "data/scan_results.csv",
		},
		Storage: StorageConfig{
			CacheDir:    "data/cache",
			ExclusionDB: "data/exclusions",
			HistoryDB:   "data/history.db",
		},
		Provider: ProviderConfig{
			Name: "yahoo",
			Yahoo: YahooConfig{
				BaseURL: "https://query1.finance.yahoo.com",
			},
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				SuffixMap: map[string]string{".T": ".TSE"},
			},
		},
		Exclusions: ExclusionsConfig{
			Seed:               []string{"1328", "1477", "1541", "1560.T", "1620.T", "2070", "2071", "2089", "2235"},
			VerificationReport: "data/verified_failed_tickers.csv",
		},
		Schedule: ScheduleConfig{
			Cron: "0 0 7 * * 6",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"console"},
		},
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are ignored; existing variables are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from files with environment overrides.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WEEKSCAN_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("WEEKSCAN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if dir := os.Getenv("WEEKSCAN_DATA_DIR"); dir != "" {
		config.Storage.CacheDir = filepath.Join(dir, "cache")
		config.Storage.ExclusionDB = filepath.Join(dir, "exclusions")
		config.Storage.HistoryDB = filepath.Join(dir, "history.db")
	}

	if dir := os.Getenv("WEEKSCAN_CACHE_DIR"); dir != "" {
		config.Storage.CacheDir = dir
	}

	if provider := os.Getenv("WEEKSCAN_PROVIDER"); provider != "" {
		config.Provider.Name = provider
	}

	if n := os.Getenv("WEEKSCAN_BATCH_SIZE"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			config.Fetch.BatchSize = v
		}
	}

	if n := os.Getenv("WEEKSCAN_CHUNK_SIZE"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			config.Scan.ChunkSize = v
		}
	}

	if key := os.Getenv("EODHD_API_KEY"); key != "" {
		config.Provider.EODHD.APIKey = key
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Fetch.BatchSize <= 0:
		return fmt.Errorf("fetch.batch_size must be positive, got %d", c.Fetch.BatchSize)
	case c.Scan.ChunkSize <= 0:
		return fmt.Errorf("scan.chunk_size must be positive, got %d", c.Scan.ChunkSize)
	case c.Fetch.RetryCount < 0:
		return fmt.Errorf("fetch.retry_count must not be negative, got %d", c.Fetch.RetryCount)
	case c.Scan.LongWindow < 1:
		return fmt.Errorf("scan.long_window must be at least 1, got %d", c.Scan.LongWindow)
	case c.Scan.ShortWindow >= c.Scan.LongWindow:
		return fmt.Errorf("scan.short_window (%d) must be less than scan.long_window (%d)", c.Scan.ShortWindow, c.Scan.LongWindow)
	case c.Scan.Workers < 1 || c.Scan.AsOfWorkers < 1:
		return fmt.Errorf("scan workers must be at least 1")
	}

	switch c.Provider.Name {
	case "yahoo", "eodhd":
	default:
		return fmt.Errorf("unknown provider '%s'", c.Provider.Name)
	}

	switch c.Scan.Bucket {
	case "weekly", "monthly":
	default:
		return fmt.Errorf("unknown scan.bucket '%s'", c.Scan.Bucket)
	}

	if _, err := c.Scan.GetAsOf(); err != nil {
		return err
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
