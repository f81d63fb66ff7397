// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package trainingapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/veloroute/veloroute/internal/config"
	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// dateFormat is the YYYY-MM-DD form the activities endpoint expects.
const dateFormat = "2006-01-02"

// Sentinel errors surfaced to callers.
var (
	// ErrCircuitOpen means the remote API has been failing and calls are
	// short-circuited until the breaker half-opens.
	ErrCircuitOpen = errors.New("training api circuit breaker is open")

	// ErrRateLimited means the request still got HTTP 429 after all
	// backoff retries were spent.
	ErrRateLimited = errors.New("training api rate limit exceeded")

	// ErrNoActivities is returned by OldestActivityDate when the account
	// has no activities at all.
	ErrNoActivities = errors.New("no activities found")
)

// statusError carries a non-2xx HTTP status through the retry machinery.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("training api returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *statusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is the interface the sync manager consumes. Implemented by
// HTTPClient for production and by test fakes.
type Client interface {
	// ListActivities returns activity metadata for the inclusive date
	// range, selecting only the named fields.
	ListActivities(ctx context.Context, oldest, newest time.Time, fields []string) ([]models.Activity, error)

	// OldestActivityDate probes the account's full history and returns
	// the start date of the earliest activity.
	OldestActivityDate(ctx context.Context) (time.Time, error)

	// ActivityBounds fetches the bounding box and, when recorded, the GPS
	// track of one activity. The returned bounds are already normalized.
	ActivityBounds(ctx context.Context, activityID string) (*ActivityBounds, error)
}

// HTTPClient talks to the remote training-data API over HTTP with local
// rate limiting, retry and circuit breaking. Safe for concurrent use.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client

	// burst and sustained mirror the upstream's two documented quotas.
	// Both must admit a request before it is sent.
	burst     *rate.Limiter
	sustained *rate.Limiter

	breaker *gobreaker.CircuitBreaker[[]byte]

	maxRetries   uint64
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewClient builds an HTTPClient from configuration. Zero-valued tuning
// fields fall back to safe defaults.
func NewClient(cfg config.APIConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	burstWindow := cfg.BurstWindow
	if burstWindow == 0 {
		burstWindow = 15 * time.Second
	}
	sustainedWindow := cfg.SustainedWindow
	if sustainedWindow == 0 {
		sustainedWindow = 15 * time.Minute
	}
	retryInitial := cfg.RetryInitial
	if retryInitial == 0 {
		retryInitial = 500 * time.Millisecond
	}
	retryMax := cfg.RetryMax
	if retryMax == 0 {
		retryMax = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 4
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 100
	}
	sustained := cfg.Sustained
	if sustained <= 0 {
		sustained = 1000
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "trainingapi",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Training API circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A 429 is the upstream doing its job, not the upstream
			// being down. Only hard failures count against the breaker.
			var se *statusError
			if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
				return true
			}
			return err == nil
		},
	})

	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		client:       &http.Client{Timeout: timeout},
		burst:        rate.NewLimiter(rate.Every(burstWindow/time.Duration(burst)), burst),
		sustained:    rate.NewLimiter(rate.Every(sustainedWindow/time.Duration(sustained)), sustained),
		breaker:      breaker,
		maxRetries:   maxRetries,
		retryInitial: retryInitial,
		retryMax:     retryMax,
	}
}

// ListActivities implements Client.
func (c *HTTPClient) ListActivities(ctx context.Context, oldest, newest time.Time, fields []string) ([]models.Activity, error) {
	params := url.Values{}
	params.Set("oldest", oldest.Format(dateFormat))
	params.Set("newest", newest.Format(dateFormat))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	body, err := c.get(ctx, "/api/v1/activities", params)
	if err != nil {
		return nil, fmt.Errorf("list activities %s..%s: %w",
			oldest.Format(dateFormat), newest.Format(dateFormat), err)
	}

	var records []activityRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode activities response: %w", err)
	}

	activities := make([]models.Activity, 0, len(records))
	for _, r := range records {
		a, err := r.toModel()
		if err != nil {
			logging.Warn().Err(err).Str("activity_id", r.ID).Msg("Skipping malformed activity record")
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// OldestActivityDate implements Client. It queries the widest possible
// range with minimal fields and takes the earliest start date.
func (c *HTTPClient) OldestActivityDate(ctx context.Context) (time.Time, error) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	activities, err := c.ListActivities(ctx, epoch, time.Now().UTC(), MinimalFields)
	if err != nil {
		return time.Time{}, fmt.Errorf("probe oldest activity: %w", err)
	}
	if len(activities) == 0 {
		return time.Time{}, ErrNoActivities
	}

	oldest := activities[0].StartDate
	for _, a := range activities[1:] {
		if a.StartDate.Before(oldest) {
			oldest = a.StartDate
		}
	}
	return oldest, nil
}

// ActivityBounds implements Client.
func (c *HTTPClient) ActivityBounds(ctx context.Context, activityID string) (*ActivityBounds, error) {
	body, err := c.get(ctx, "/api/v1/activities/"+url.PathEscape(activityID)+"/bounds", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch bounds for %s: %w", activityID, err)
	}

	var record boundsRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode bounds response for %s: %w", activityID, err)
	}
	if record.ActivityID == "" {
		record.ActivityID = activityID
	}
	return record.toModel()
}

// get performs one GET with the full resilience stack: both limiters,
// then backoff-wrapped attempts through the circuit breaker.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.burst.Wait(ctx); err != nil {
		return nil, fmt.Errorf("burst limiter: %w", err)
	}
	if err := c.sustained.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sustained limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxInterval = c.retryMax
	bo.MaxElapsedTime = 0

	var body []byte
	operation := func() error {
		var err error
		body, err = c.breaker.Execute(func() ([]byte, error) {
			return c.doOnce(ctx, reqURL)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		var se *statusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusTooManyRequests {
				metrics.APIRateLimited.Inc()
			}
			if !se.retryable() {
				return backoff.Permanent(err)
			}
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, se.Body)
		}
		return nil, err
	}
	return body, nil
}

// doOnce performs a single HTTP round trip and reads the full body.
func (c *HTTPClient) doOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	metrics.APIRequests.Inc()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{
			StatusCode: resp.StatusCode,
			Body:       string(readBodyForError(resp.Body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
