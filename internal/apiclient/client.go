// Package apiclient implements the paginated, retrying extraction client
// against the ClinicalTrials.gov V2 studies endpoint.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/etlerrors"
)

const (
	pageSizeParam       = "pageSize"
	pageTokenParam      = "pageToken"
	filterAdvancedParam = "filter.advanced"

	defaultBackoffBase = 1 * time.Second
	defaultBackoffCap  = 10 * time.Second

	// pagerBufferSize matches the suggested channel capacity of one page.
	pagerBufferSize = 100

	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 5
)

// RawStudy is one opaque study object as returned by the API, kept
// untouched for persistence into raw_studies.
type RawStudy = json.RawMessage

// page mirrors the V2 API's page envelope: { studies: [...], nextPageToken?: string }.
type page struct {
	Studies       []RawStudy `json:"studies"`
	NextPageToken *string    `json:"nextPageToken"`
}

// Config holds the client's tunables, mirroring the api.* keys.
type Config struct {
	BaseURL        string
	PageSize       int
	MaxRetries     int
	TimeoutSeconds int
}

// Client fetches pages of raw studies from the ClinicalTrials.gov V2 API,
// retrying transient failures with exponential backoff and exposing the
// result as a pull-based channel of RawStudy.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	cfg         Config
	backoffBase time.Duration
	backoffCap  time.Duration
}

// New builds a Client with a dedicated HTTP connection pool, lifetime one
// run, and a token-bucket pacer so the extraction stage stays a well
// behaved citizen of the remote API between retries.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimitRPS), defaultRateLimitBurst),
		logger:      logger,
		cfg:         cfg,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
}

// Result is one item pulled off a Client stream: either a raw study or a
// terminal error. Once Err is non-nil, the stream is closed and no further
// items follow.
type Result struct {
	Study RawStudy
	Err   error
}

// Stream produces a lazy, finite sequence of raw study objects, optionally
// filtered by updatedSince (nil means a full load with no date filter).
// The returned channel is closed once the API signals the last page or a
// fatal extraction error occurs; RetryCount reports the number of retried
// HTTP attempts observed so far (updated live, read after the channel
// closes for a stable total).
func (c *Client) Stream(ctx context.Context, updatedSince *time.Time) (<-chan Result, *int) {
	out := make(chan Result, pagerBufferSize)
	retryCount := 0

	go func() {
		defer close(out)

		pageToken := ""
		first := true

		for {
			if !first && pageToken == "" {
				return
			}
			first = false

			body, err := c.fetchPageWithRetry(ctx, pageToken, updatedSince, &retryCount)
			if err != nil {
				select {
				case out <- Result{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			var p page
			if err := json.Unmarshal(body, &p); err != nil {
				fatalErr := etlerrors.NewFatalExtraction(0, pageToken, fmt.Errorf("decoding page response: %w", err))
				select {
				case out <- Result{Err: fatalErr}:
				case <-ctx.Done():
				}
				return
			}

			for _, study := range p.Studies {
				select {
				case out <- Result{Study: study}:
				case <-ctx.Done():
					return
				}
			}

			if p.NextPageToken == nil || *p.NextPageToken == "" {
				return
			}
			pageToken = *p.NextPageToken
		}
	}()

	return out, &retryCount
}

// fetchPageWithRetry issues one page request, retrying transient failures
// with exponential backoff: base 1s, cap 10s, max MaxRetries attempts,
// retried only on timeout/429/5xx. The page token for a successful request
// is never re-derived; progress commits on the last successful page.
func (c *Client) fetchPageWithRetry(ctx context.Context, pageToken string, updatedSince *time.Time, retryCount *int) ([]byte, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	// WithMaxRetries counts retries after the first attempt, so maxRetries-1
	// retries gives maxRetries attempts in total.
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx)

	var (
		body       []byte
		lastStatus int
	)

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		respBody, status, err := c.doRequest(ctx, pageToken, updatedSince)
		if err != nil {
			// Only the run's own context ending stops retrying; a per-request
			// http.Client timeout also matches context.DeadlineExceeded, so
			// the error itself cannot tell the two apart.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			// Network-level errors (including timeouts) are retryable.
			*retryCount++
			return err
		}

		lastStatus = status

		if status == http.StatusOK {
			body = respBody
			return nil
		}

		if isRetryableStatus(status) {
			*retryCount++
			return fmt.Errorf("retryable HTTP status %d", status)
		}

		return backoff.Permanent(etlerrors.NewFatalExtraction(status, pageToken, fmt.Errorf("unretryable HTTP status %d: %w", status, etlerrors.ErrUnretryableHTTP)))
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var fatal *etlerrors.FatalExtraction
		if errors.As(err, &fatal) {
			return nil, fatal
		}

		return nil, etlerrors.NewFatalExtraction(lastStatus, pageToken, fmt.Errorf("%w: %v", etlerrors.ErrRetriesExhausted, err))
	}

	return body, nil
}

func (c *Client) doRequest(ctx context.Context, pageToken string, updatedSince *time.Time) ([]byte, int, error) {
	reqURL, err := c.buildURL(pageToken, updatedSince)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body := make([]byte, 0)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	c.logger.Debug("fetched page", slog.String("page_token", pageToken), slog.Int("status", resp.StatusCode), slog.Int("bytes", len(body)))

	return body, resp.StatusCode, nil
}

func (c *Client) buildURL(pageToken string, updatedSince *time.Time) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing api.base_url: %w", err)
	}

	q := base.Query()
	q.Set(pageSizeParam, strconv.Itoa(c.cfg.PageSize))
	if pageToken != "" {
		q.Set(pageTokenParam, pageToken)
	}
	if updatedSince != nil {
		q.Set(filterAdvancedParam, fmt.Sprintf("AREA[LastUpdatePostDate]RANGE[%s,MAX]", updatedSince.UTC().Format("2006-01-02")))
	}
	base.RawQuery = q.Encode()

	return base.String(), nil
}

func isRetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
