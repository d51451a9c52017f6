// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/ken-ando/paper-citation/pkg/types"
)

// BulkSearchURL is the Semantic Scholar bulk paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var BulkSearchURL = "https://api.semanticscholar.org/graph/v1/paper/search/bulk"

const (
	defaultTimeout      = 30 * time.Second
	defaultRateInterval = 1100 * time.Millisecond
	defaultMaxRetries   = 5
)

// Prometheus metrics for page fetches.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total number of bulk search HTTP attempts by outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retried bulk search attempts",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration before retried bulk search attempts",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	retriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_retries_exhausted_total",
		Help: "Total number of page fetches abandoned after exhausting retries",
	})
)

// ErrRetriesExhausted reports that every attempt for one page was rate
// limited. Callers separate it from transport failures with errors.Is.
var ErrRetriesExhausted = errors.New("retries exhausted")

// errRateLimited classifies an HTTP 429 within the retry loop.
var errRateLimited = errors.New("rate limited (HTTP 429)")

// Record is one paper exactly as returned by the API. It stays opaque so the
// requested field list alone controls the persisted shape.
type Record map[string]any

// CitationCount returns the citationCount field when present and non-null.
func (r Record) CitationCount() (int, bool) {
	f, ok := r["citationCount"].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Page is one bulk search response. Total is meaningful on the first page
// only; an empty Token signals end-of-results.
type Page struct {
	Total int      `json:"total"`
	Token string   `json:"token"`
	Data  []Record `json:"data"`
}

// Client fetches bulk search pages while keeping a minimum interval between
// request starts and retrying transient failures with exponential backoff.
// Retries draw from the same rate budget as first attempts, so one Client
// never exceeds one request per interval overall.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	userAgent   string
	minInterval time.Duration
	maxRetries  int

	// lastRequest is the start time of the most recent attempt. Single
	// owner, never shared across Clients.
	lastRequest time.Time
	now         func() time.Time // swapped in tests
}

// NewClient builds a Client from cfg, filling unset values with the
// defaults (30 s timeout, 1.1 s interval, 5 attempts).
func NewClient(cfg types.FetchConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = defaultRateInterval
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		userAgent:   cfg.UserAgent,
		minInterval: interval,
		maxRetries:  retries,
		now:         time.Now,
	}
}

// FetchPage retrieves one page for query, echoing token back to the API when
// non-empty. Up to maxRetries attempts are made; 429 responses, transport
// errors, unexpected statuses, and malformed bodies all consume one attempt
// and back off (1<<attempt)*minInterval before the next. A final attempt
// that fails on anything but a 429 propagates that failure; exhausting every
// attempt on 429s returns ErrRetriesExhausted.
func (c *Client) FetchPage(ctx context.Context, q types.Query, token string) (*Page, error) {
	if q.IsEmpty() {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		page, err := c.doRequest(ctx, q, token)
		if err == nil {
			requestsTotal.WithLabelValues("ok").Inc()
			if attempt > 0 {
				log.Info().Int("attempt", attempt+1).Msg("Request succeeded after retry")
			}
			return page, nil
		}
		lastErr = err

		if errors.Is(err, errRateLimited) {
			requestsTotal.WithLabelValues("rate_limited").Inc()
		} else {
			requestsTotal.WithLabelValues("error").Inc()
		}

		// No backoff sleep after the final attempt.
		if attempt == c.maxRetries-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * c.minInterval
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("backoff", backoff).
			Msg("Request failed, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	retriesExhaustedTotal.Inc()
	log.Warn().Int("max_retries", c.maxRetries).Msg("Retry attempts exhausted")

	if errors.Is(lastErr, errRateLimited) {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.maxRetries, lastErr)
	}
	return nil, lastErr
}

// waitTurn blocks until minInterval has elapsed since the previous attempt's
// start, then stamps the new start. The stamp is taken before the request is
// issued, so slow responses do not stretch the effective interval.
func (c *Client) waitTurn(ctx context.Context) error {
	if !c.lastRequest.IsZero() {
		if wait := c.minInterval - c.now().Sub(c.lastRequest); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	c.lastRequest = c.now()
	return nil
}

// doRequest issues a single GET and decodes the response.
func (c *Client) doRequest(ctx context.Context, q types.Query, token string) (*Page, error) {
	params := url.Values{
		"query":  {q.Text},
		"fields": {q.FieldList()},
	}
	if q.Year != "" {
		params.Set("year", q.Year)
	}
	if token != "" {
		params.Set("token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BulkSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("Semantic Scholar returned HTTP %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}
	return &page, nil
}
