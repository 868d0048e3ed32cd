package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a response body an error message quotes.
const maxErrorBody = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		body := e.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody] + "..."
		}
		b.WriteString(": ")
		b.WriteString(body)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %v)", e.RetryAfter)
	}
	return b.String()
}

// Temporary reports whether the status usually clears on its own.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
