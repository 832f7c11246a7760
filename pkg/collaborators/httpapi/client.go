// Package httpapi implements every collaborator capability as JSON over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
)

// Endpoint addresses one collaborator service.
type Endpoint struct {
	BaseURL string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Token   string        `yaml:"token"    json:"-"`
	Timeout time.Duration `yaml:"timeout"  json:"timeout"`
	// Attempts bounds retries of network errors and 5xx responses.
	Attempts uint `yaml:"attempts" json:"attempts"`
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client performs JSON requests against an Endpoint.
type Client struct {
	endpoint Endpoint
	http     *http.Client
}

// NewClient creates a client for endpoint. A nil httpClient gets one with the endpoint timeout.
func NewClient(endpoint Endpoint, httpClient *http.Client) *Client {
	if endpoint.Timeout <= 0 {
		endpoint.Timeout = defaultTimeout
	}

	if endpoint.Attempts == 0 {
		endpoint.Attempts = defaultAttempts
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: endpoint.Timeout}
	}

	return &Client{endpoint: endpoint, http: httpClient}
}

// Do sends in as the JSON body and decodes the response into out. Network
// errors and 5xx responses are retried with exponential backoff; 4xx are not.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	target, err := url.JoinPath(c.endpoint.BaseURL, path)
	if err != nil {
		return fmt.Errorf("failed to build url: %w", err)
	}

	respBody, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.perform(ctx, method, target, body)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.endpoint.Attempts),
	)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}

	return nil
}

func (c *Client) perform(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}

		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}

		// Don't retry on client errors (4xx), only on server errors (5xx) or network errors
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(httpErr)
		}

		return nil, httpErr
	}

	return respBody, nil
}

// IsStatus reports whether err carries an HTTP response with the given status code.
func IsStatus(err error, statusCode int) bool {
	var httpErr *HTTPError

	return errors.As(err, &httpErr) && httpErr.StatusCode == statusCode
}
