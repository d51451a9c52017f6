// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ken-ando/paper-citation/internal/jsonl"
)

// RunStats accumulates the outcome of one harvest run. It is owned by the
// loop and finalized only after the loop terminates.
type RunStats struct {
	// TotalResults is the matched-result count reported by the first page.
	TotalResults int `json:"total_results"`

	// Fetched counts the records written to the output files.
	Fetched int `json:"fetched"`

	// Pages counts the successfully fetched pages.
	Pages int `json:"pages"`

	// Citations holds the citationCount of every record that carried one.
	Citations []int `json:"-"`

	// Files describes the output files in creation order.
	Files []jsonl.FileInfo `json:"files"`
}

// CitationSummary holds aggregate citation statistics for one run.
type CitationSummary struct {
	Count int     `json:"count" yaml:"count"`
	Max   int     `json:"max" yaml:"max"`
	Min   int     `json:"min" yaml:"min"`
	Mean  float64 `json:"mean" yaml:"mean"`
}

// CitationSummary aggregates the collected citation counts. ok is false when
// no record carried one.
func (s RunStats) CitationSummary() (summary CitationSummary, ok bool) {
	if len(s.Citations) == 0 {
		return CitationSummary{}, false
	}

	sum := 0
	summary.Max = s.Citations[0]
	summary.Min = s.Citations[0]
	for _, n := range s.Citations {
		sum += n
		if n > summary.Max {
			summary.Max = n
		}
		if n < summary.Min {
			summary.Min = n
		}
	}
	summary.Count = len(s.Citations)
	summary.Mean = float64(sum) / float64(len(s.Citations))
	return summary, true
}

// WriteSummary renders the end-of-run statistics block to w.
func (s RunStats) WriteSummary(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "Statistics")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "total results: %s\n", humanize.Comma(int64(s.TotalResults)))
	fmt.Fprintf(w, "fetched: %s papers across %d pages\n",
		humanize.Comma(int64(s.Fetched)), s.Pages)

	for _, f := range s.Files {
		fmt.Fprintf(w, "output: %s (%d records, %s)\n",
			f.Path, f.Records, humanize.Bytes(uint64(f.Bytes)))
	}

	if summary, ok := s.CitationSummary(); ok {
		fmt.Fprintln(w, "\ncitations:")
		fmt.Fprintf(w, "  max:  %s\n", humanize.Comma(int64(summary.Max)))
		fmt.Fprintf(w, "  min:  %s\n", humanize.Comma(int64(summary.Min)))
		fmt.Fprintf(w, "  mean: %.1f\n", summary.Mean)
	} else if s.Fetched == 0 {
		fmt.Fprintln(w, "\nno papers found")
	}
}
