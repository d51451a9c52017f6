// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package jsonl persists serialized records as newline-delimited JSON files,
// either into a single unbounded file or split across size-bounded parts.
package jsonl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ken-ando/paper-citation/pkg/types"
)

// Prometheus metrics for dataset writes.
var (
	datasetRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataset_records_written_total",
		Help: "Total number of records written to dataset files",
	})

	datasetBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataset_bytes_written_total",
		Help: "Total number of bytes written to dataset files",
	})

	datasetRolloversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataset_file_rollovers_total",
		Help: "Total number of size-triggered file rollovers",
	})
)

// FileInfo describes one dataset file produced by a Writer.
type FileInfo struct {
	Path    string `json:"path" yaml:"path"`
	Records int    `json:"records" yaml:"records"`
	Bytes   int64  `json:"bytes" yaml:"bytes"`
}

// Writer is an append-only sink for serialized records. Implementations
// write each line straight to disk, unbuffered, so partial progress
// survives a mid-run failure.
type Writer interface {
	// WriteLine persists one newline-terminated record.
	WriteLine(line []byte) error

	// Close closes the currently open file. Safe to call more than once.
	Close() error

	// Files reports the files written so far, in creation order.
	Files() []FileInfo
}

// NewWriter returns the sink cfg calls for: a SplitWriter bounded by
// cfg.SplitSize when it is positive, a SingleWriter otherwise. base is the
// output path without extension.
func NewWriter(base string, cfg types.OutputConfig) Writer {
	if cfg.SplitSize > 0 {
		return NewSplitWriter(base, cfg.SplitSize)
	}
	return NewSingleWriter(base + ".jsonl")
}

// SingleWriter writes every record to one fixed-name file, created on the
// first write.
type SingleWriter struct {
	path string
	f    *os.File
	info FileInfo
}

// NewSingleWriter returns a Writer that sends all records to path.
func NewSingleWriter(path string) *SingleWriter {
	return &SingleWriter{path: path}
}

// WriteLine appends one record line to the file.
func (w *SingleWriter) WriteLine(line []byte) error {
	if w.f == nil {
		f, err := createFile(w.path)
		if err != nil {
			return err
		}
		w.f = f
		w.info = FileInfo{Path: w.path}
	}
	n, err := w.f.Write(line)
	w.info.Bytes += int64(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	w.info.Records++
	datasetRecordsTotal.Inc()
	datasetBytesTotal.Add(float64(n))
	return nil
}

// Close closes the file if one was opened.
func (w *SingleWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", w.path, err)
	}
	return nil
}

// Files returns the file written, or nil if no record arrived.
func (w *SingleWriter) Files() []FileInfo {
	if w.info.Path == "" {
		return nil
	}
	return []FileInfo{w.info}
}

// SplitWriter writes records to base.jsonl and rolls over to
// base_part2.jsonl, base_part3.jsonl, ... whenever another record would
// push the current file past the size threshold. A file's first record is
// always accepted regardless of its own size, so every file holds at least
// one record and no completed file overshoots the threshold by more than
// the record that triggered its rollover.
type SplitWriter struct {
	base      string
	threshold int64
	f         *os.File
	files     []FileInfo
}

// NewSplitWriter returns a size-bounded Writer. base is the output path
// without extension; threshold is the rollover size in bytes and must be
// positive.
func NewSplitWriter(base string, threshold int64) *SplitWriter {
	return &SplitWriter{base: base, threshold: threshold}
}

// fileName returns the name of the n-th file (1-based). The first file is
// base.jsonl; later files carry a _part{N} suffix.
func (w *SplitWriter) fileName(n int) string {
	if n == 1 {
		return w.base + ".jsonl"
	}
	return fmt.Sprintf("%s_part%d.jsonl", w.base, n)
}

// WriteLine appends one record line, rolling to the next file first when
// the current file is non-empty and the line would exceed the threshold.
func (w *SplitWriter) WriteLine(line []byte) error {
	if w.f == nil {
		if err := w.openNext(); err != nil {
			return err
		}
	}
	cur := &w.files[len(w.files)-1]
	if cur.Records > 0 && cur.Bytes+int64(len(line)) > w.threshold {
		if err := w.rollover(); err != nil {
			return err
		}
		cur = &w.files[len(w.files)-1]
	}
	n, err := w.f.Write(line)
	cur.Bytes += int64(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", cur.Path, err)
	}
	cur.Records++
	datasetRecordsTotal.Inc()
	datasetBytesTotal.Add(float64(n))
	return nil
}

// Close closes the currently open part if any.
func (w *SplitWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", w.files[len(w.files)-1].Path, err)
	}
	return nil
}

// Files returns a snapshot of the parts written so far.
func (w *SplitWriter) Files() []FileInfo {
	out := make([]FileInfo, len(w.files))
	copy(out, w.files)
	return out
}

func (w *SplitWriter) openNext() error {
	path := w.fileName(len(w.files) + 1)
	f, err := createFile(path)
	if err != nil {
		return err
	}
	w.f = f
	w.files = append(w.files, FileInfo{Path: path})
	return nil
}

func (w *SplitWriter) rollover() error {
	if err := w.Close(); err != nil {
		return err
	}
	datasetRolloversTotal.Inc()
	return w.openNext()
}

// createFile creates path, making parent directories as needed. An existing
// file is truncated.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}
