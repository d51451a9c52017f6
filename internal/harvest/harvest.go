// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest downloads Semantic Scholar bulk search results page by
// page and streams every record into newline-delimited JSON output.
package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/ken-ando/paper-citation/internal/jsonl"
	"github.com/ken-ando/paper-citation/pkg/types"
)

// Fetcher retrieves one result page per call. *Client is the production
// implementation; tests substitute fakes.
type Fetcher interface {
	FetchPage(ctx context.Context, q types.Query, token string) (*Page, error)
}

// Run drives the pagination loop: fetch a page, stream its records into
// sink, follow the continuation token, stop when the token is absent. Every
// record is written before the next page is requested, so partial progress
// survives a mid-run failure. The sink is closed exactly once no matter how
// the loop exits; on a fetch or write failure Run returns the statistics
// accumulated so far together with the error.
func Run(ctx context.Context, f Fetcher, q types.Query, sink jsonl.Writer, progress io.Writer) (stats RunStats, err error) {
	defer func() {
		if closeErr := sink.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing output: %w", closeErr)
		}
		stats.Files = sink.Files()
	}()

	enc := newLineEncoder()

	token := ""
	for {
		fmt.Fprintf(progress, "fetching page %d... ", stats.Pages+1)

		page, fetchErr := f.FetchPage(ctx, q, token)
		if fetchErr != nil {
			fmt.Fprintln(progress)
			return stats, fmt.Errorf("fetching page %d: %w", stats.Pages+1, fetchErr)
		}
		stats.Pages++

		// Only the first page's total is meaningful.
		if stats.Pages == 1 {
			stats.TotalResults = page.Total
			fmt.Fprintf(progress, "\ntotal results: %s\n", humanize.Comma(int64(page.Total)))
		}

		for _, rec := range page.Data {
			line, encErr := enc.encode(rec)
			if encErr != nil {
				return stats, fmt.Errorf("encoding record: %w", encErr)
			}
			if writeErr := sink.WriteLine(line); writeErr != nil {
				return stats, fmt.Errorf("writing record: %w", writeErr)
			}
			stats.Fetched++
			if n, ok := rec.CitationCount(); ok {
				stats.Citations = append(stats.Citations, n)
			}
		}

		fmt.Fprintf(progress, "%d records (cumulative: %s)\n",
			len(page.Data), humanize.Comma(int64(stats.Fetched)))
		log.Debug().
			Int("page", stats.Pages).
			Int("records", len(page.Data)).
			Str("next_token", page.Token).
			Msg("Page complete")

		if page.Token == "" {
			fmt.Fprintln(progress, "all pages fetched")
			return stats, nil
		}
		token = page.Token
	}
}

// lineEncoder renders records as single JSON lines with UTF-8 emitted
// literally instead of escaped.
type lineEncoder struct {
	buf bytes.Buffer
	enc *json.Encoder
}

func newLineEncoder() *lineEncoder {
	le := &lineEncoder{}
	le.enc = json.NewEncoder(&le.buf)
	le.enc.SetEscapeHTML(false)
	return le
}

// encode returns rec as one newline-terminated line. The returned slice is
// only valid until the next encode call.
func (le *lineEncoder) encode(rec Record) ([]byte, error) {
	le.buf.Reset()
	if err := le.enc.Encode(rec); err != nil {
		return nil, err
	}
	return le.buf.Bytes(), nil
}
