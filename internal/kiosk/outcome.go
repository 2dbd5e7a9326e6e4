package kiosk

import (
	"errors"

	"github.com/ent0n29/avatarkiosk/internal/heygen"
	"github.com/ent0n29/avatarkiosk/internal/session"
	"github.com/ent0n29/avatarkiosk/internal/textgen"
)

func isConflict(err error) bool {
	var notReady *session.NotReadyError
	return errors.Is(err, session.ErrStartInProgress) ||
		errors.Is(err, session.ErrAlreadyStarted) ||
		errors.As(err, &notReady)
}

func isRetryable(err error) bool {
	var perr *heygen.ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

func speakOutcome(err error) string {
	var notReady *session.NotReadyError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &notReady):
		return "not_ready"
	case errors.Is(err, session.ErrEmptyText):
		return "empty"
	default:
		return "error"
	}
}

func generationOutcome(err error) string {
	if errors.Is(err, textgen.ErrNotConfigured) {
		return "not_configured"
	}
	return "error"
}
