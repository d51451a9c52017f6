// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken-ando/paper-citation/internal/harvest"
	"github.com/ken-ando/paper-citation/internal/jsonl"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "datasets", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	okRun := Run{
		Dataset:      "llm",
		Query:        `("large language model")`,
		Year:         "2025",
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
		TotalResults: 237,
		Fetched:      237,
		Pages:        3,
		Files: []jsonl.FileInfo{
			{Path: "datasets/llm.jsonl", Records: 237, Bytes: 4096},
		},
		Citations: &harvest.CitationSummary{Count: 237, Max: 90, Min: 0, Mean: 4.5},
	}
	failedRun := Run{
		Dataset:    "llm",
		Query:      `("large language model")`,
		Year:       "2025",
		StartedAt:  started.Add(time.Hour),
		FinishedAt: started.Add(time.Hour + time.Minute),
		Fetched:    100,
		Pages:      1,
		Failed:     true,
		Error:      "fetching page 2: retries exhausted",
	}

	id1, err := s.Record(ctx, okRun)
	require.NoError(t, err)
	id2, err := s.Record(ctx, failedRun)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	runs, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.True(t, runs[0].Failed)
	assert.Equal(t, "fetching page 2: retries exhausted", runs[0].Error)
	assert.Nil(t, runs[0].Citations)

	got := runs[1]
	assert.False(t, got.Failed)
	assert.Equal(t, 237, got.Fetched)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "datasets/llm.jsonl", got.Files[0].Path)
	require.NotNil(t, got.Citations)
	assert.Equal(t, 90, got.Citations.Max)
	assert.WithinDuration(t, okRun.StartedAt, got.StartedAt, time.Second)
	assert.WithinDuration(t, okRun.FinishedAt, got.FinishedAt, time.Second)
}

func TestRecentFiltersByDataset(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, ds := range []string{"llm", "patents", "llm"} {
		_, err := s.Record(ctx, Run{Dataset: ds, Query: "q", StartedAt: time.Now(), FinishedAt: time.Now()})
		require.NoError(t, err)
	}

	runs, err := s.Recent(ctx, "llm", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "llm", r.Dataset)
	}
}

func TestRecentLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, Run{Dataset: "llm", Query: "q", StartedAt: time.Now(), FinishedAt: time.Now()})
		require.NoError(t, err)
	}

	runs, err := s.Recent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRecentEmptyStore(t *testing.T) {
	s := openStore(t)

	runs, err := s.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWriteTable(t *testing.T) {
	runs := []Run{
		{
			ID: 2, Dataset: "llm", Fetched: 100, Pages: 1, Failed: true,
			FinishedAt: time.Now(),
		},
		{
			ID: 1, Dataset: "llm", Fetched: 237, Pages: 3,
			FinishedAt: time.Now(),
			Files: []jsonl.FileInfo{
				{Path: "datasets/a.jsonl", Records: 200},
				{Path: "datasets/a_part2.jsonl", Records: 37},
			},
		},
	}

	var buf bytes.Buffer
	WriteTable(runs, &buf)
	out := buf.String()

	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "a.jsonl (+1 more)")
	assert.Contains(t, out, "2 runs")
}

func TestWriteTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(nil, &buf)
	assert.Contains(t, buf.String(), "No runs recorded.")
}
