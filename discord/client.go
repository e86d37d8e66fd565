package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chatwarden/warden/util"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

const DefaultAPIHost = "https://discord.com/api/v10"

type Client struct {
	// Client is an HTTP client to use. If not set, defaults to util.RobustHTTPClient().
	Client *http.Client
	// API base URL, including version path segment
	Host      string
	Token     string
	UserAgent *string
	Headers   map[string]string
	// Client-side request budget, on top of server rate limit handling. Optional.
	Limiter *rate.Limiter
}

func NewClient(host, token string, requestsPerSecond float64) *Client {
	if host == "" {
		host = DefaultAPIHost
	}
	c := &Client{
		Client: util.RobustHTTPClient(),
		Host:   host,
		Token:  token,
	}
	if requestsPerSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), max(1, int(requestsPerSecond)))
	}
	return c
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return util.RobustHTTPClient()
	}
	return c.Client
}

// Error body returned by the API on non-2xx responses.
type APIError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	Global     bool    `json:"global,omitempty"`
}

func (ae *APIError) Error() string {
	return fmt.Sprintf("%d: %s", ae.Code, ae.Message)
}

type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("discord API error %d", e.StatusCode)
	}
	if e.StatusCode == http.StatusTooManyRequests && e.Ratelimit != nil {
		return fmt.Sprintf("discord API error %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("discord API error %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	if e.Wrapped == nil {
		return nil
	}
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *Error) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Bucket    string
	Global    bool
	Reset     time.Time
}

func errorFromHTTPResponse(resp *http.Response, err error) error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if resp.Header.Get("X-RateLimit-Limit") != "" || resp.StatusCode == http.StatusTooManyRequests {
		r.Ratelimit = &RatelimitInfo{
			Bucket: resp.Header.Get("X-RateLimit-Bucket"),
			Global: resp.Header.Get("X-RateLimit-Global") == "true",
		}
		if f, err := strconv.ParseFloat(resp.Header.Get("X-RateLimit-Reset"), 64); err == nil {
			r.Ratelimit.Reset = time.UnixMilli(int64(f * 1000))
		} else if f, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
			r.Ratelimit.Reset = time.Now().Add(time.Duration(f * float64(time.Second)))
		}
		if n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit")); err == nil {
			r.Ratelimit.Limit = n
		}
		if n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil {
			r.Ratelimit.Remaining = n
		}
	}
	return r
}

type RequestOption func(req *http.Request)

// Sets the reason shown in the guild's own audit log for this action.
func WithReason(reason string) RequestOption {
	return func(req *http.Request) {
		if reason != "" {
			req.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))
		}
	}
}

func WithQuery(params url.Values) RequestOption {
	return func(req *http.Request) {
		req.URL.RawQuery = params.Encode()
	}
}

// pre-encoded request body with its own content type (multipart uploads)
type rawBody struct {
	contentType string
	data        []byte
}

// Performs an API request. bodyobj is JSON-encoded unless nil; out (if not
// nil) receives the decoded JSON response. Non-2xx responses are returned as
// *Error.
func (c *Client) Do(ctx context.Context, method, path string, bodyobj interface{}, out interface{}, opts ...RequestOption) error {
	var body io.Reader
	contentType := ""
	if bodyobj != nil {
		if rb, ok := bodyobj.(*rawBody); ok {
			body = bytes.NewReader(rb.data)
			contentType = rb.contentType
		} else {
			b, err := json.Marshal(bodyobj)
			if err != nil {
				return err
			}
			body = bytes.NewReader(b)
			contentType = "application/json"
		}
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.UserAgent != nil {
		req.Header.Set("User-Agent", *c.UserAgent)
	} else {
		req.Header.Set("User-Agent", "DiscordBot (https://github.com/chatwarden/warden, "+versioninfo.Short()+")")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	resp, err := c.getClient().Do(req)
	if err != nil {
		apiRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	apiRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	apiDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae APIError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil {
			return errorFromHTTPResponse(resp, fmt.Errorf("failed to decode API error message: %w", err))
		}
		return errorFromHTTPResponse(resp, &ae)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding API response: %w", err)
		}
	}
	return nil
}
