// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.yaml.in/yaml/v3"

	"github.com/ken-ando/paper-citation/internal/jsonl"
	"github.com/ken-ando/paper-citation/pkg/types"
)

// Job is the on-disk representation of a harvest: the query, the fetch
// limits, the output policy, and, once a run completed, its summary. An
// operator can save a job file and rerun it later with identical
// parameters.
type Job struct {
	Dataset string      `yaml:"dataset,omitempty"`
	Query   types.Query `yaml:"query"`
	Fetch   JobFetch    `yaml:"fetch,omitempty"`
	Output  JobOutput   `yaml:"output,omitempty"`
	Summary *JobSummary `yaml:"summary,omitempty"`
}

// JobFetch stores fetch limits in editable string form ("1.1s", "30s").
// The API key is deliberately never persisted here.
type JobFetch struct {
	RateInterval string `yaml:"rate_interval,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
}

// JobOutput stores the output policy. SplitSize is a human-readable byte
// size ("10 MB"); empty means a single unbounded file.
type JobOutput struct {
	Dir       string `yaml:"dir,omitempty"`
	SplitSize string `yaml:"split_size,omitempty"`
}

// JobSummary stores run statistics and a timestamp.
type JobSummary struct {
	TotalResults int              `yaml:"total_results"`
	Fetched      int              `yaml:"fetched"`
	Pages        int              `yaml:"pages"`
	Files        []jsonl.FileInfo `yaml:"files,omitempty"`
	Citations    *CitationSummary `yaml:"citations,omitempty"`
	Timestamp    time.Time        `yaml:"timestamp"`
}

// FetchConfig converts the stored limits into a FetchConfig, leaving zero
// values for unset fields so client defaults apply downstream.
func (f JobFetch) FetchConfig() (types.FetchConfig, error) {
	cfg := types.FetchConfig{MaxRetries: f.MaxRetries}
	if f.RateInterval != "" {
		d, err := time.ParseDuration(f.RateInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid rate_interval %q: %w", f.RateInterval, err)
		}
		cfg.RateInterval = d
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// SplitBytes parses the human-readable split size. Zero means unsplit.
func (o JobOutput) SplitBytes() (int64, error) {
	if o.SplitSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(o.SplitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid split_size %q: %w", o.SplitSize, err)
	}
	return int64(n), nil
}

// ReadJob loads a job definition from a YAML file.
func ReadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}
	return &job, nil
}

// WriteJob saves the job to path with its summary filled from stats, so the
// file documents both what was asked for and what came back.
func WriteJob(path string, job Job, stats RunStats) error {
	summary := JobSummary{
		TotalResults: stats.TotalResults,
		Fetched:      stats.Fetched,
		Pages:        stats.Pages,
		Files:        stats.Files,
		Timestamp:    time.Now(),
	}
	if cs, ok := stats.CitationSummary(); ok {
		summary.Citations = &cs
	}
	job.Summary = &summary

	data, err := yaml.Marshal(&job)
	if err != nil {
		return fmt.Errorf("marshaling job file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
