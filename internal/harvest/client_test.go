// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken-ando/paper-citation/pkg/types"
)

const pageBody = `{"total":42,"token":"next-page","data":[` +
	`{"paperId":"p1","citationCount":7},` +
	`{"paperId":"p2","citationCount":null}]}`

func testQuery() types.Query {
	return types.Query{
		Text:   `("large language model" | "large language models")`,
		Year:   "2025",
		Fields: []string{"paperId", "title", "citationCount"},
	}
}

// newTestClient points the package at ts and uses tiny intervals so tests
// finish quickly.
func newTestClient(t *testing.T, ts *httptest.Server, maxRetries int) *Client {
	t.Helper()
	old := BulkSearchURL
	BulkSearchURL = ts.URL
	t.Cleanup(func() { BulkSearchURL = old })

	return &Client{
		httpClient:  ts.Client(),
		userAgent:   "paper-citation-test",
		minInterval: 1 * time.Millisecond,
		maxRetries:  maxRetries,
		now:         time.Now,
	}
}

func TestFetchPage_ImmediateSuccess(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, pageBody)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	page, err := c.FetchPage(context.Background(), testQuery(), "")
	require.NoError(t, err)

	assert.Equal(t, 42, page.Total)
	assert.Equal(t, "next-page", page.Token)
	require.Len(t, page.Data, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	n, ok := page.Data[0].CitationCount()
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	// citationCount:null must read as absent.
	_, ok = page.Data[1].CitationCount()
	assert.False(t, ok)
}

func TestFetchPage_RequestParameters(t *testing.T) {
	var gotQuery, gotYear, gotFields, gotToken, gotUA, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = q.Get("query")
		gotYear = q.Get("year")
		gotFields = q.Get("fields")
		gotToken = q.Get("token")
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("x-api-key")
		fmt.Fprint(w, `{"total":0,"data":[]}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	_, err := c.FetchPage(context.Background(), testQuery(), "")
	require.NoError(t, err)

	assert.Equal(t, `("large language model" | "large language models")`, gotQuery)
	assert.Equal(t, "2025", gotYear)
	assert.Equal(t, "paperId,title,citationCount", gotFields)
	assert.Empty(t, gotToken, "token param must be omitted on the first page")
	assert.Equal(t, "paper-citation-test", gotUA)
	assert.Empty(t, gotKey, "x-api-key must be omitted without a key")
}

func TestFetchPage_ForwardsTokenAndAPIKey(t *testing.T) {
	var gotToken, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		gotKey = r.Header.Get("x-api-key")
		fmt.Fprint(w, `{"total":0,"data":[]}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	c.apiKey = "s2-key"
	_, err := c.FetchPage(context.Background(), testQuery(), "cursor-123")
	require.NoError(t, err)

	assert.Equal(t, "cursor-123", gotToken)
	assert.Equal(t, "s2-key", gotKey)
}

func TestFetchPage_RetriesThen200(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, pageBody)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	page, err := c.FetchPage(context.Background(), testQuery(), "")
	require.NoError(t, err)

	assert.Equal(t, 42, page.Total)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchPage_ExhaustsRetriesOn429(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 3)
	page, err := c.FetchPage(context.Background(), testQuery(), "")

	assert.Nil(t, page)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchPage_ServerErrorPropagatesOnFinalAttempt(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 2)
	_, err := c.FetchPage(context.Background(), testQuery(), "")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "HTTP 500")
	// Server errors are retried like transport failures before propagating.
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchPage_MalformedResponseRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"total":`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 2)
	_, err := c.FetchPage(context.Background(), testQuery(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing Semantic Scholar response")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchPage_EmptyQueryRejected(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, pageBody)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	_, err := c.FetchPage(context.Background(), types.Query{Text: "  "}, "")

	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchPage_RateIntervalEnforced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"total":0,"data":[]}`)
	}))
	defer ts.Close()

	interval := 10 * time.Millisecond
	c := newTestClient(t, ts, 5)
	c.minInterval = interval

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.FetchPage(context.Background(), testQuery(), "")
		require.NoError(t, err)
	}

	// Three request starts share one budget: elapsed >= (N-1) * interval.
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
}

func TestFetchPage_ContextCancelledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 5)
	// Long interval so the first backoff outlives the context.
	c.minInterval = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchPage(ctx, testQuery(), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(types.FetchConfig{})

	assert.Equal(t, defaultRateInterval, c.minInterval)
	assert.Equal(t, defaultMaxRetries, c.maxRetries)
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
	assert.NotNil(t, c.now)
}

func TestNewClient_ConfigOverrides(t *testing.T) {
	c := NewClient(types.FetchConfig{
		HTTPConfig:   types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "ua"},
		APIKey:       "k",
		RateInterval: 2 * time.Second,
		MaxRetries:   7,
	})

	assert.Equal(t, 2*time.Second, c.minInterval)
	assert.Equal(t, 7, c.maxRetries)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.Equal(t, "ua", c.userAgent)
	assert.Equal(t, "k", c.apiKey)
}

func TestRecordCitationCount(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want int
		ok   bool
	}{
		{"present", Record{"citationCount": float64(12)}, 12, true},
		{"zero", Record{"citationCount": float64(0)}, 0, true},
		{"missing", Record{"title": "x"}, 0, false},
		{"null", Record{"citationCount": nil}, 0, false},
		{"non-numeric", Record{"citationCount": "many"}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.rec.CitationCount()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFetchPage_BackoffGrows(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, 3)
	c.minInterval = 10 * time.Millisecond

	_, err := c.FetchPage(context.Background(), testQuery(), "")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	require.Len(t, stamps, 3)

	// Backoff doubles: >=10ms before the second attempt, >=20ms before the
	// third (the rate interval alone would allow exactly 10ms gaps).
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 20*time.Millisecond)
}
