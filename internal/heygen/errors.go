package heygen

import (
	"encoding/json"
	"fmt"

	"github.com/ent0n29/avatarkiosk/internal/reliability"
)

// RawBodyKey holds the response text when the body is not JSON.
const RawBodyKey = "_raw"

// ProviderError reports a failed provider call: a non-2xx status, a response
// missing required fields, or a transport failure (Status == 0).
type ProviderError struct {
	Op       string
	Endpoint string
	Status   int
	Body     map[string]any
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s -> %d: %s: %s", e.Endpoint, e.Status, e.Reason, e.bodyString())
	default:
		return fmt.Sprintf("%s -> %d: %s", e.Endpoint, e.Status, e.bodyString())
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later manual retry is likely to succeed.
// Nothing in this module retries automatically.
func (e *ProviderError) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	return reliability.IsRetryableHTTPStatus(e.Status)
}

// Timeout reports whether the call hit the client deadline.
func (e *ProviderError) Timeout() bool {
	return reliability.IsTimeout(e.Err)
}

func (e *ProviderError) bodyString() string {
	if len(e.Body) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Body)
	if err != nil {
		return fmt.Sprintf("%v", e.Body)
	}
	const max = 2 << 10
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
