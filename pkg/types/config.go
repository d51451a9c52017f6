package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "paper-citation/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// FetchConfig holds settings for the rate-limited Semantic Scholar fetcher.
type FetchConfig struct {
	HTTPConfig `yaml:",inline"`

	// APIKey is an optional Semantic Scholar API key for elevated rate limits.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// RateInterval is the minimum time between request starts. Retries draw
	// from the same budget as first attempts, so the whole process never
	// exceeds one request per interval (default 1.1s).
	RateInterval time.Duration `json:"rate_interval" yaml:"rate_interval"`

	// MaxRetries is the number of attempts per page fetch (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// OutputConfig holds settings for dataset persistence.
type OutputConfig struct {
	// Dir is the directory dataset files are written into.
	Dir string `json:"dir" yaml:"dir"`

	// SplitSize is the file rollover threshold in bytes. Zero writes a single
	// unbounded file.
	SplitSize int64 `json:"split_size" yaml:"split_size"`

	// ManifestPath is the dataset manifest JSON file. Empty disables
	// manifest updates.
	ManifestPath string `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`

	// HistoryPath is the run-history SQLite database. Empty disables
	// history recording.
	HistoryPath string `json:"history_path,omitempty" yaml:"history_path,omitempty"`
}

// HarvestConfig groups all configuration for one harvest run.
type HarvestConfig struct {
	Fetch  FetchConfig  `json:"fetch" yaml:"fetch"`
	Output OutputConfig `json:"output" yaml:"output"`
}
