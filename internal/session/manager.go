// Package session owns the lifecycle of the single remote avatar session.
//
// Transitions:
//
//	idle|failed|stopped --start--> initializing --ready--> ready --stop--> stopped
//	                               initializing --fail---> failed
//
// Start is rejected while initializing, Speak requires ready, Stop only acts on
// ready and never surfaces remote failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/ent0n29/avatarkiosk/internal/heygen"
	"github.com/ent0n29/avatarkiosk/internal/observability"
)

const (
	evStart = "start"
	evReady = "ready"
	evFail  = "fail"
	evStop  = "stop"
)

const (
	defaultStopTimeout  = 10 * time.Second
	defaultStartTimeout = 2 * time.Minute
)

type Manager struct {
	provider Provider
	metrics  *observability.Metrics
	now      func() time.Time

	mu         sync.Mutex
	machine    *fsm.FSM
	descriptor *heygen.SessionDescriptor
	token      string
	failure    error
	startedAt  time.Time
	readyAt    time.Time
	closed     bool
	hooks      []func(Event)

	startTimeout time.Duration
	stopTimeout  time.Duration
	shutdownOnce sync.Once
}

type Option func(*Manager)

func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// WithStopTimeout bounds the remote stop call issued by Stop and Shutdown.
func WithStopTimeout(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.stopTimeout = d
		}
	}
}

// WithStartTimeout bounds the create-session and create-token calls of Start.
// They run detached from the caller's context once begun.
func WithStartTimeout(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.startTimeout = d
		}
	}
}

func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		now:          time.Now,
		startTimeout: defaultStartTimeout,
		stopTimeout:  defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateIdle), string(StateFailed), string(StateStopped)}, Dst: string(StateInitializing)},
			{Name: evReady, Src: []string{string(StateInitializing)}, Dst: string(StateReady)},
			{Name: evFail, Src: []string{string(StateInitializing)}, Dst: string(StateFailed)},
			{Name: evStop, Src: []string{string(StateReady)}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.metrics.SetSessionState(e.Dst)
			},
		},
	)
	m.metrics.SetSessionState(string(StateIdle))
	return m
}

// Subscribe registers a hook called after every transition, outside the lock.
func (m *Manager) Subscribe(hook func(Event)) {
	if hook == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.machine.Current())
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:     State(m.machine.Current()),
		StartedAt: m.startedAt,
		ReadyAt:   m.readyAt,
	}
	if m.descriptor != nil {
		d := m.descriptor.Clone()
		s.Descriptor = &d
	}
	if m.failure != nil {
		s.Failure = m.failure.Error()
	}
	return s
}

// Credentials returns the ready session's descriptor and bearer token for the
// viewer. ok is false unless the session is ready.
func (m *Manager) Credentials() (heygen.SessionDescriptor, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if State(m.machine.Current()) != StateReady || m.descriptor == nil || m.token == "" {
		return heygen.SessionDescriptor{}, "", false
	}
	return m.descriptor.Clone(), m.token, true
}

// Start creates the remote session and its token, in that order. A second
// Start while the first is in flight is rejected with ErrStartInProgress.
// Cancelling ctx after the provider calls began does not abort them: a remote
// session without a token could never be stopped.
func (m *Manager) Start(ctx context.Context, avatarID, voiceID string) (heygen.SessionDescriptor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return heygen.SessionDescriptor{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return heygen.SessionDescriptor{}, fmt.Errorf("start avatar session: %w", err)
	}
	if err := m.machine.Event(ctx, evStart); err != nil {
		current := State(m.machine.Current())
		m.mu.Unlock()
		switch current {
		case StateReady:
			return heygen.SessionDescriptor{}, ErrAlreadyStarted
		case StateInitializing:
			return heygen.SessionDescriptor{}, ErrStartInProgress
		default:
			return heygen.SessionDescriptor{}, fmt.Errorf("start avatar session: %w", err)
		}
	}
	m.failure = nil
	m.startedAt = m.now()
	m.readyAt = time.Time{}
	m.mu.Unlock()
	m.emit(Event{Type: EventInitializing, State: StateInitializing})

	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.startTimeout)
	desc, token, err := m.open(openCtx, avatarID, voiceID)
	cancel()

	m.mu.Lock()
	if err != nil {
		m.failure = err
		m.fire(evFail)
		m.mu.Unlock()
		log.Printf("avatar session start failed: %v", err)
		m.emit(Event{Type: EventFailed, State: StateFailed, Err: err})
		return heygen.SessionDescriptor{}, err
	}
	m.descriptor = &desc
	m.token = token
	m.readyAt = m.now()
	m.fire(evReady)
	closed := m.closed
	m.mu.Unlock()

	log.Printf("avatar session ready: session_id=%s", desc.SessionID)
	m.emit(Event{Type: EventReady, State: StateReady, SessionID: desc.SessionID})

	if closed {
		// Shutdown ran while we were initializing; do not leave this one running.
		m.stopReady(context.Background(), true)
		return heygen.SessionDescriptor{}, ErrClosed
	}
	return desc.Clone(), nil
}

func (m *Manager) open(ctx context.Context, avatarID, voiceID string) (heygen.SessionDescriptor, string, error) {
	desc, err := m.provider.CreateSession(ctx, avatarID, voiceID)
	if err != nil {
		return heygen.SessionDescriptor{}, "", err
	}
	token, err := m.provider.CreateToken(ctx, desc.SessionID)
	if err != nil {
		// The remote session exists but we hold no token to stop it with.
		log.Printf("avatar token creation failed for session_id=%s", desc.SessionID)
		return heygen.SessionDescriptor{}, "", err
	}
	return desc, token, nil
}

// Speak sends text, unchanged, to the ready session. Provider failures are
// returned but leave the session ready.
func (m *Manager) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	m.mu.Lock()
	state := State(m.machine.Current())
	if state != StateReady || m.descriptor == nil || m.token == "" {
		m.mu.Unlock()
		return &NotReadyError{State: state}
	}
	sessionID, token := m.descriptor.SessionID, m.token
	m.mu.Unlock()

	if err := m.provider.SendTask(ctx, sessionID, token, text); err != nil {
		log.Printf("avatar speak failed: session_id=%s err=%v", sessionID, err)
		return err
	}
	return nil
}

// Stop ends the ready session. It is a no-op in every other state, including
// initializing. Local state is cleared before the remote call so a dead
// provider never wedges the manager. Reports whether a session was stopped.
func (m *Manager) Stop(ctx context.Context) bool {
	return m.stopReady(ctx, false)
}

// Shutdown performs the process-exit cleanup exactly once: the last known
// ready session is stopped silently and later Starts are refused. Hosts must
// call it on exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.stopReady(ctx, true)
	})
}

func (m *Manager) stopReady(ctx context.Context, silent bool) bool {
	m.mu.Lock()
	if State(m.machine.Current()) != StateReady || m.descriptor == nil {
		m.mu.Unlock()
		return false
	}
	sessionID, token := m.descriptor.SessionID, m.token
	m.fire(evStop)
	m.descriptor = nil
	m.token = ""
	m.readyAt = time.Time{}
	m.mu.Unlock()

	m.emit(Event{Type: EventStopped, State: StateStopped, SessionID: sessionID})

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.stopTimeout)
	defer cancel()
	if err := m.provider.StopSession(stopCtx, sessionID, token); err != nil && !silent {
		log.Printf("avatar session stop failed (ignored): session_id=%s err=%v", sessionID, err)
	}
	return true
}

// fire applies an internal transition. Must be called with m.mu held.
func (m *Manager) fire(event string) {
	if err := m.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			log.Printf("session fsm: %s from %s: %v", event, m.machine.Current(), err)
		}
	}
}

func (m *Manager) emit(ev Event) {
	ev.At = m.now()
	m.metrics.ObserveSessionEvent(string(ev.Type))

	m.mu.Lock()
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook(ev)
	}
}
