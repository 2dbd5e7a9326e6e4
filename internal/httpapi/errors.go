package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/avatarkiosk/internal/heygen"
	"github.com/ent0n29/avatarkiosk/internal/kiosk"
	"github.com/ent0n29/avatarkiosk/internal/session"
	"github.com/ent0n29/avatarkiosk/internal/textgen"
)

func statusForError(err error) (int, string) {
	var (
		notReady *session.NotReadyError
		genErr   *textgen.GenerationError
		provErr  *heygen.ProviderError
	)
	switch {
	case errors.Is(err, session.ErrEmptyText), errors.Is(err, kiosk.ErrEmptyPrompt):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &notReady):
		return http.StatusConflict, "session_not_ready"
	case errors.Is(err, session.ErrStartInProgress):
		return http.StatusConflict, "start_in_progress"
	case errors.Is(err, session.ErrAlreadyStarted):
		return http.StatusConflict, "already_started"
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, kiosk.ErrUnknownPreset):
		return http.StatusNotFound, "unknown_preset"
	case errors.Is(err, textgen.ErrNotConfigured):
		return http.StatusServiceUnavailable, "generation_unavailable"
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "generation_failed"
	case errors.As(err, &provErr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func isRetryable(err error) bool {
	var provErr *heygen.ProviderError
	return errors.As(err, &provErr) && provErr.Retryable()
}
