package reliability

import (
	"context"
	"errors"
	"net"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err came from a deadline (client timeout or context).
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Outcome buckets a call result into a low-cardinality metrics label.
func Outcome(status int, err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case status == 0:
		return "transport"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "invalid_response"
	}
}
