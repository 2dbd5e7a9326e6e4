package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/avatarkiosk/internal/heygen"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

var (
	ErrStartInProgress = errors.New("avatar session start already in progress")
	ErrAlreadyStarted  = errors.New("avatar session already started")
	ErrClosed          = errors.New("session manager is shut down")
	ErrEmptyText       = errors.New("speak text is empty")
)

// NotReadyError is returned by Speak when no session is ready.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("avatar session not ready (state %s): start the avatar first", e.State)
}

// Provider is the subset of the avatar provider the manager drives.
type Provider interface {
	CreateSession(ctx context.Context, avatarID, voiceID string) (heygen.SessionDescriptor, error)
	CreateToken(ctx context.Context, sessionID string) (string, error)
	SendTask(ctx context.Context, sessionID, token, text string) error
	StopSession(ctx context.Context, sessionID, token string) error
}

type EventType string

const (
	EventInitializing EventType = "initializing"
	EventReady        EventType = "ready"
	EventFailed       EventType = "failed"
	EventStopped      EventType = "stopped"
)

// Event is delivered to hooks after each lifecycle transition.
type Event struct {
	Type      EventType
	State     State
	SessionID string
	Err       error
	At        time.Time
}

// Snapshot is a point-in-time copy of the manager state. It never holds the token.
type Snapshot struct {
	State      State                     `json:"state"`
	Descriptor *heygen.SessionDescriptor `json:"descriptor,omitempty"`
	Failure    string                    `json:"failure,omitempty"`
	StartedAt  time.Time                 `json:"started_at,omitempty"`
	ReadyAt    time.Time                 `json:"ready_at,omitempty"`
}

func (s Snapshot) SessionID() string {
	if s.Descriptor == nil {
		return ""
	}
	return s.Descriptor.SessionID
}
