// Package webhook performs the outbound HTTP requests that drive a call:
// markup fetches and status callbacks.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client defines the interface for making webhook HTTP calls.
type Client interface {
	Do(ctx context.Context, method, targetURL string, form url.Values) (status int, body []byte, err error)
}

// HTTPClient is the default implementation using http.Client. An optional
// rate limiter bounds the outbound request rate across all sessions.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithRateLimit bounds outbound webhook requests to r per second with the
// given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// NewHTTPClient creates a webhook client with the given request timeout.
func NewHTTPClient(timeout time.Duration, opts ...Option) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPClient{
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues a request with the given parameters: in the query string for GET,
// as a form body otherwise.
func (c *HTTPClient) Do(ctx context.Context, method, targetURL string, form url.Values) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		u := targetURL
		if len(form) > 0 {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, targetURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "voxgate/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// MockClient is a test double for capturing webhook calls.
type MockClient struct {
	Calls []MockCall
	// ResponseFunc allows tests to control responses.
	ResponseFunc func(method, url string, form url.Values) (status int, body []byte, err error)
}

// MockCall records a webhook call.
type MockCall struct {
	Method string
	URL    string
	Form   url.Values
}

// NewMockClient creates a mock that answers every request with an empty
// markup document.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Do records the call and returns the configured response.
func (m *MockClient) Do(_ context.Context, method, targetURL string, form url.Values) (int, []byte, error) {
	m.Calls = append(m.Calls, MockCall{Method: method, URL: targetURL, Form: form})
	if m.ResponseFunc != nil {
		return m.ResponseFunc(method, targetURL, form)
	}
	return 200, []byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`), nil
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.Calls = nil
}

// CallsTo returns all recorded calls to a specific URL.
func (m *MockClient) CallsTo(url string) []MockCall {
	var result []MockCall
	for _, call := range m.Calls {
		if call.URL == url {
			result = append(result, call)
		}
	}
	return result
}
