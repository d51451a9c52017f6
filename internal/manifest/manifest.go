// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package manifest tracks the most recent dataset file per category in a
// small JSON document, updated read-modify-write so concurrent tools and
// hand edits to other keys survive.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultPath is where the harvest CLI keeps its manifest.
const DefaultPath = "datasets/manifest.json"

// Entry records the latest file written for one dataset category.
type Entry struct {
	// Filename is the first (or only) output file of the run.
	Filename string `json:"filename"`

	// Timestamp is the compact run stamp embedded in the filename.
	Timestamp string `json:"timestamp"`

	// UpdatedAt is when the manifest entry was written, RFC 3339.
	UpdatedAt string `json:"updated_at"`
}

// Load reads the manifest at path. A missing file yields an empty map.
// Values that do not decode as entries are skipped, not errors; they belong
// to other tools sharing the file.
func Load(path string) (map[string]Entry, error) {
	raw, err := load(path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(raw))
	for key, msg := range raw {
		var e Entry
		if json.Unmarshal(msg, &e) == nil && e.Filename != "" {
			entries[key] = e
		}
	}
	return entries, nil
}

// Keys returns the dataset categories in sorted order.
func Keys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Update sets the entry for dataset and writes the manifest back atomically.
// Keys other than dataset are preserved byte for byte. An empty UpdatedAt
// is stamped with the current time.
func Update(path, dataset string, e Entry) error {
	if e.UpdatedAt == "" {
		e.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	raw, err := load(path)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling manifest entry: %w", err)
	}
	raw[dataset] = msg

	return write(path, raw)
}

// load reads path into a key → raw JSON map, treating a missing file as
// empty.
func load(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return raw, nil
}

// write marshals raw and replaces path via a temporary file so a crash
// mid-write never leaves a truncated manifest.
func write(path string, raw map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
