// Package textgen produces avatar replies from free-text prompts.
package textgen

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is wrapped by GenerationError when no producer is set up.
var ErrNotConfigured = errors.New("text producer not configured")

// Producer returns a reply for prompt. Failures are *GenerationError.
type Producer interface {
	Produce(ctx context.Context, prompt string) (string, error)
}

// GenerationError reports a text producer failure.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("text generation failed: %s: %v", e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("text generation failed: %v", e.Err)
	default:
		return "text generation failed: " + e.Reason
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Unavailable is the Producer used when no API key is configured.
type Unavailable struct{}

func (Unavailable) Produce(context.Context, string) (string, error) {
	return "", &GenerationError{Err: ErrNotConfigured}
}
