// Package httputil holds the JSON response helpers used by the gateway's handlers and
// the HTTP client used to talk to a gateway.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxErrorBody    = 64 << 10
	maxResponseBody = 256 << 20
)

// =============================================================================
// Service Client
// =============================================================================

// ServiceClient talks JSON to a gateway. It attaches a bearer token when one is
// configured and retries idempotent requests that fail with a 5xx or a transport error.
type ServiceClient struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	maxRetries   int
	retryBackoff time.Duration
}

// ServiceClientConfig configures the service client. Timeout bounds a whole request
// including the response body; leave it zero and use context deadlines for long
// operations such as proving.
type ServiceClientConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	return &ServiceClient{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
	}
}

// Do executes an HTTP request. body, when non-nil, is sent as JSON.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.doWithRetry(ctx, method, path, payload, 0)
}

// doWithRetry resends the same payload on transient failures of idempotent requests.
func (c *ServiceClient) doWithRetry(ctx context.Context, method, path string, payload []byte, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	retry := attempt < c.maxRetries && idempotent(method) && ctx.Err() == nil
	if err != nil {
		if retry {
			return c.retryAfterBackoff(ctx, method, path, payload, attempt, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError && retry {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return c.retryAfterBackoff(ctx, method, path, payload, attempt, nil)
	}
	return resp, nil
}

func (c *ServiceClient) retryAfterBackoff(ctx context.Context, method, path string, payload []byte, attempt int, cause error) (*http.Response, error) {
	timer := time.NewTimer(c.retryBackoff * time.Duration(attempt+1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		if cause != nil {
			return nil, fmt.Errorf("request failed: %w", cause)
		}
		return nil, ctx.Err()
	case <-timer.C:
	}
	return c.doWithRetry(ctx, method, path, payload, attempt+1)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with JSON body.
func (c *ServiceClient) Put(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *ServiceClient) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// APIError is a non-2xx response. Code, Message and TraceID are filled when the body is
// the gateway's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed with status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// DecodeResponse decodes a JSON response into the target struct. Error statuses are
// returned as *APIError.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, maxErrorBody)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope ErrorBody
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.TraceID = envelope.TraceID
			return apiErr
		}
		apiErr.Message = strings.TrimSpace(string(body))
		if truncated {
			apiErr.Message += "...(truncated)"
		}
		return apiErr
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
