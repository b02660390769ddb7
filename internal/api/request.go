package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the backend may answer differently next time.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// newAPIError prefers the backend's {"detail": ...} message over the status
// text. Validation failures carry a list, which is kept as raw JSON.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: http.StatusText(status), Body: body}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) != nil || len(payload.Detail) == 0 {
		return e
	}
	var text string
	switch {
	case json.Unmarshal(payload.Detail, &text) == nil:
		if text != "" {
			e.Message = text
		}
	case string(payload.Detail) != "null":
		e.Message = string(payload.Detail)
	}
	return e
}

// retryPolicy retries failed reads with doubling, jittered waits.
type retryPolicy struct {
	retries int
	base    time.Duration
}

// wait returns the pause before retry n (1-based): base*2^(n-1) scaled by a
// random factor in [0.5, 1.5].
func (p retryPolicy) wait(n int) time.Duration {
	d := p.base << (n - 1)
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)+1))
}

// shouldRetry accepts server-side failures and transport errors, never
// cancellation or client errors.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens == nil {
		return req, nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// fetch performs one attempt and returns the body of a 2xx or 3xx answer.
func (c *Client) fetch(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, query)
	if err != nil {
		return nil, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// fetchWithRetry repeats fetch under the client's retry policy.
func (c *Client) fetchWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	body, err := c.fetch(ctx, method, path, query)
	for n := 1; err != nil && n <= c.retry.retries; n++ {
		if !shouldRetry(ctx, err) {
			return nil, err
		}

		pause := c.retry.wait(n)
		c.logger.Debug("retrying request", "path", path, "retry", n, "wait", pause, "error", err)

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		body, err = c.fetch(ctx, method, path, query)
	}
	if err == nil {
		return body, nil
	}
	if c.retry.retries > 0 && shouldRetry(ctx, err) {
		return nil, fmt.Errorf("giving up after %d retries: %w", c.retry.retries, err)
	}
	return nil, err
}

// get decodes the JSON answer of a GET into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.fetchWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
