// Package supabase is a small client for the hosted backend: PostgREST
// queries, RPC calls, token introspection and realtime subscriptions.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/vetclinic/internal/logging"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Client talks to one Supabase project with a single API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
	breaker    *CircuitBreaker
	log        *logger.Logger
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	Retry      RetryConfig
	Breaker    CircuitBreakerConfig
	Logger     *logger.Logger
}

// New creates a client. Zero retry and breaker settings take the defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("supabase")
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		retry:      cfg.Retry,
		breaker:    NewCircuitBreaker(cfg.Breaker),
		log:        log,
	}, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Result parses the body for field access.
func (r *Response) Result() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Count reads the total from a Content-Range header ("0-9/42").
func (r *Response) Count() (int, bool) {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 || cr[idx+1:] == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// APIError is a PostgREST or auth error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("supabase %d: %s", e.StatusCode, msg)
}

func parseAPIError(status int, body []byte) *APIError {
	res := gjson.ParseBytes(body)
	apiErr := &APIError{
		StatusCode: status,
		Code:       res.Get("code").String(),
		Message:    res.Get("message").String(),
		Details:    res.Get("details").String(),
		Hint:       res.Get("hint").String(),
	}
	if apiErr.Message == "" {
		apiErr.Message = res.Get("error_description").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = res.Get("msg").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = res.Get("error").String()
	}
	return apiErr
}

// AsAPIError unwraps an APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// RPC calls a database function. Params are sent as the JSON body.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	var body []byte
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = data
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return c.send(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, body, headers)
}

// User is the subset of the auth user object the service reads.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// GetUser resolves an end-user access token through the hosted auth API.
func (c *Client) GetUser(ctx context.Context, accessToken string) (User, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.send(ctx, http.MethodGet, "/auth/v1/user", nil, nil, headers)
	if err != nil {
		return User{}, err
	}
	var user User
	if err := resp.JSON(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte, headers http.Header) (*http.Request, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	for k, values := range headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if id := logging.GetTraceID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

// send builds the request on every attempt so the body is re-readable.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte, headers http.Header) (*Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := c.withRetry(ctx, func() (*Response, error) {
		req, err := c.newRequest(ctx, method, path, query, body, headers)
		if err != nil {
			return nil, err
		}
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer httpResp.Body.Close()
		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		out := &Response{StatusCode: httpResp.StatusCode, Body: data, Headers: httpResp.Header}
		if httpResp.StatusCode >= 400 {
			return out, parseAPIError(httpResp.StatusCode, data)
		}
		return out, nil
	})
	entry := c.log.WithContext(ctx).
		WithField("method", method).
		WithField("path", path).
		WithField("duration", time.Since(started))
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.StatusCode < 500 {
			c.breaker.RecordSuccess()
			entry.WithField("status", apiErr.StatusCode).Debug("supabase request rejected")
			return resp, err
		}
		c.breaker.RecordFailure(err)
		entry.WithError(err).Warn("supabase request failed")
		return resp, err
	}
	c.breaker.RecordSuccess()
	entry.WithField("status", resp.StatusCode).Debug("supabase request")
	return resp, nil
}
