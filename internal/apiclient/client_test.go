package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"golang.org/x/time/rate"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	return &Client{
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:         Config{BaseURL: baseURL, PageSize: 100, MaxRetries: 3},
		backoffBase: time.Millisecond,
		backoffCap:  5 * time.Millisecond,
	}
}

func drain(t *testing.T, ch <-chan Result) []Result {
	t.Helper()
	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	return results
}

func TestStreamSinglePageNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(page{
			Studies: []RawStudy{json.RawMessage(`{"nct_id":"NCT001"}`), json.RawMessage(`{"nct_id":"NCT002"}`)},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ch, _ := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
}

func TestStreamFollowsPageToken(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			require.Empty(t, r.URL.Query().Get(pageTokenParam))
			token := "page-2"
			_ = json.NewEncoder(w).Encode(page{
				Studies:       []RawStudy{json.RawMessage(`{"nct_id":"NCT001"}`)},
				NextPageToken: &token,
			})
			return
		}

		require.Equal(t, "page-2", r.URL.Query().Get(pageTokenParam))
		_ = json.NewEncoder(w).Encode(page{
			Studies: []RawStudy{json.RawMessage(`{"nct_id":"NCT002"}`)},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ch, _ := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Len(t, results, 2)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStreamEmptyFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(page{Studies: []RawStudy{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ch, _ := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Empty(t, results)
}

func TestStreamRetriesTransient503ThenSucceeds(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(page{Studies: []RawStudy{json.RawMessage(`{"nct_id":"NCT001"}`)}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ch, retryCount := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.GreaterOrEqual(t, *retryCount, 1)
}

func TestStreamUnretryable4xxIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ch, _ := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)

	var fatal *etlerrors.FatalExtraction
	require.ErrorAs(t, results[0].Err, &fatal)
	require.Equal(t, http.StatusBadRequest, fatal.StatusCode)
}

func TestStreamExhaustedRetriesIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.MaxRetries = 2
	ch, _ := c.Stream(context.Background(), nil)
	results := drain(t, ch)

	require.Len(t, results, 1)
	var fatal *etlerrors.FatalExtraction
	require.ErrorAs(t, results[0].Err, &fatal)
	require.Equal(t, http.StatusInternalServerError, fatal.StatusCode)
}

func TestBuildURLWithUpdatedSince(t *testing.T) {
	c := newTestClient(t, "https://clinicaltrials.gov/api/v2/studies")
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	got, err := c.buildURL("tok", &since)
	require.NoError(t, err)
	require.Contains(t, got, "filter.advanced=AREA%5BLastUpdatePostDate%5DRANGE%5B2024-06-01%2CMAX%5D")
	require.Contains(t, got, "pageToken=tok")
}
