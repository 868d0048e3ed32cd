// Package httpclient is the outbound HTTP client used by hooks. It makes a
// single request per call and leaves retrying to the hook executor.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// Client sends requests with shared defaults.
type Client struct {
	client       *http.Client
	userAgent    string
	headers      map[string]string
	maxBodyBytes int64
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHeaders sets headers added to every request unless the request
// already carries them.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		c.headers = h
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = int64(n)
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: DefaultTimeout},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Truncated is set when the body exceeded the configured cap.
	Truncated bool
}

// Do sends req and reads the body. Non-2xx responses are returned along
// with a *StatusError.
func (c *Client) Do(req *http.Request) (*Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, truncated, err := readCapped(resp.Body, c.maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
			RetryAfter: ParseRetryAfter(resp.Header, time.Now()),
		}
	}
	return out, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}
