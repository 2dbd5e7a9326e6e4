// Package kiosk is the host logic behind the kiosk screen: the visitor gate,
// ambient audio during avatar warmup, preset taps and the text relay.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/avatarkiosk/internal/catalog"
	"github.com/ent0n29/avatarkiosk/internal/ledger"
	"github.com/ent0n29/avatarkiosk/internal/observability"
	"github.com/ent0n29/avatarkiosk/internal/policy"
	"github.com/ent0n29/avatarkiosk/internal/protocol"
	"github.com/ent0n29/avatarkiosk/internal/session"
	"github.com/ent0n29/avatarkiosk/internal/textgen"
	"github.com/ent0n29/avatarkiosk/internal/viewer"
	"github.com/ent0n29/avatarkiosk/internal/warmup"
)

const (
	DefaultInitialDraft = "Hello, welcome."

	SourceTap         = "tap"
	SourceInstruction = "instruction"
	SourceManual      = "manual"
	SourceGenerate    = "generate"

	subscriberBuffer = 64
	ledgerTimeout    = 5 * time.Second
)

var (
	ErrUnknownPreset = catalog.ErrUnknownPreset
	ErrEmptyPrompt   = errors.New("prompt is empty")
)

type Config struct {
	AvatarID       string
	VoiceID        string
	AvatarName     string
	InitialDraft   string
	ViewerTemplate string
	WarmupDuration time.Duration
}

// Visitor is the person who confirmed the popup. NameTel stays in memory only.
type Visitor struct {
	VisitID   string
	NameTel   string
	Confirmed bool
	At        time.Time
}

// VisitorView is the loggable form of a Visitor.
type VisitorView struct {
	VisitID   string    `json:"visit_id"`
	Contact   string    `json:"contact"`
	Confirmed bool      `json:"confirmed"`
	At        time.Time `json:"at"`
}

func (v Visitor) View() VisitorView {
	return VisitorView{
		VisitID:   v.VisitID,
		Contact:   policy.MaskContact(v.NameTel),
		Confirmed: v.Confirmed,
		At:        v.At,
	}
}

type Status struct {
	Visitor      *VisitorView     `json:"visitor,omitempty"`
	PopupDone    bool             `json:"popup_done"`
	AmbientAudio bool             `json:"ambient_audio"`
	Warmup       warmup.Window    `json:"warmup"`
	Session      session.Snapshot `json:"session"`
	Draft        string           `json:"draft"`
}

type GenerateResult struct {
	Reply  string `json:"reply"`
	Spoken bool   `json:"spoken"`
}

type Kiosk struct {
	cfg      Config
	sessions *session.Manager
	warmup   *warmup.Coordinator
	producer textgen.Producer
	catalog  catalog.Catalog
	ledger   ledger.Store
	metrics  *observability.Metrics
	now      func() time.Time

	mu        sync.Mutex
	visitor   *Visitor
	popupDone bool
	ambient   bool
	draft     string

	subMu   sync.Mutex
	subs    map[int]chan any
	nextSub int
	closed  bool

	shutdownOnce sync.Once
}

type Option func(*Kiosk)

func WithProducer(p textgen.Producer) Option {
	return func(k *Kiosk) {
		if p != nil {
			k.producer = p
		}
	}
}

func WithCatalog(c catalog.Catalog) Option {
	return func(k *Kiosk) { k.catalog = c }
}

func WithLedger(s ledger.Store) Option {
	return func(k *Kiosk) {
		if s != nil {
			k.ledger = s
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(k *Kiosk) { k.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(k *Kiosk) {
		if now != nil {
			k.now = now
		}
	}
}

func New(cfg Config, sessions *session.Manager, opts ...Option) *Kiosk {
	if strings.TrimSpace(cfg.InitialDraft) == "" {
		cfg.InitialDraft = DefaultInitialDraft
	}
	k := &Kiosk{
		cfg:      cfg,
		sessions: sessions,
		warmup:   warmup.NewCoordinator(cfg.WarmupDuration),
		producer: textgen.Unavailable{},
		catalog:  catalog.Default(),
		ledger:   ledger.NewInMemoryStore(0),
		now:      time.Now,
		draft:    cfg.InitialDraft,
		subs:     make(map[int]chan any),
	}
	for _, opt := range opts {
		opt(k)
	}
	sessions.Subscribe(k.onSessionEvent)
	return k
}

func (k *Kiosk) Catalog() catalog.Catalog { return k.catalog }

// SubmitVisitor handles OK on the popup: ambient audio starts, the warmup
// window is armed and the avatar session is started. The popup is done even
// when the start fails; the start error is returned for display.
func (k *Kiosk) SubmitVisitor(ctx context.Context, nameTel string) (VisitorView, error) {
	now := k.now()
	v := Visitor{
		VisitID:   uuid.NewString(),
		NameTel:   strings.TrimSpace(nameTel),
		Confirmed: true,
		At:        now,
	}

	k.mu.Lock()
	k.visitor = &v
	k.popupDone = true
	k.ambient = true
	k.warmup.Arm(now)
	k.mu.Unlock()

	view := v.View()
	log.Printf("visitor confirmed: visit_id=%s contact=%q", view.VisitID, view.Contact)
	k.publish(protocol.AmbientAudio{Type: protocol.TypeAmbientAudio, Playing: true, Reason: "visitor"})

	_, err := k.sessions.Start(ctx, k.cfg.AvatarID, k.cfg.VoiceID)
	k.evaluateWarmup(k.now())
	if errors.Is(err, session.ErrAlreadyStarted) {
		err = nil
	}
	if err != nil {
		k.publishError("avatar_init_failed", "session", err)
		return view, fmt.Errorf("avatar init failed: %w", err)
	}
	return view, nil
}

// CancelVisitor handles Cancel on the popup: no ambient audio, no session.
func (k *Kiosk) CancelVisitor() {
	k.mu.Lock()
	wasPlaying := k.ambient
	k.visitor = nil
	k.popupDone = true
	k.ambient = false
	k.warmup.Disarm()
	k.mu.Unlock()

	if wasPlaying {
		k.publish(protocol.AmbientAudio{Type: protocol.TypeAmbientAudio, Playing: false, Reason: "cancel"})
	}
}

func (k *Kiosk) StartAvatar(ctx context.Context) (session.Snapshot, error) {
	if _, err := k.sessions.Start(ctx, k.cfg.AvatarID, k.cfg.VoiceID); err != nil {
		if !isConflict(err) {
			k.publishError("avatar_start_failed", "session", err)
		}
		return k.sessions.Snapshot(), fmt.Errorf("start failed: %w", err)
	}
	return k.sessions.Snapshot(), nil
}

// EndAvatar stops the live session. Reports whether one was stopped.
func (k *Kiosk) EndAvatar(ctx context.Context) bool {
	return k.sessions.Stop(ctx)
}

// Tick polls the warmup window.
func (k *Kiosk) Tick(now time.Time) {
	k.evaluateWarmup(now)
}

// RunTicker calls Tick every interval until ctx is done.
func (k *Kiosk) RunTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Tick(k.now())
		}
	}
}

func (k *Kiosk) Tap(ctx context.Context, presetID int) (catalog.Preset, error) {
	p, err := k.catalog.Lookup(presetID)
	if err != nil {
		return catalog.Preset{}, err
	}
	if err := k.speak(ctx, SourceTap, p.Line); err != nil {
		return p, err
	}
	return p, nil
}

func (k *Kiosk) Instruction(ctx context.Context) error {
	return k.speak(ctx, SourceInstruction, k.catalog.Instruction)
}

func (k *Kiosk) Speak(ctx context.Context, text string) error {
	return k.speak(ctx, SourceManual, text)
}

// Generate relays prompt to the text producer. On success the reply becomes
// the draft and is spoken when a session is ready; on failure the draft keeps
// the prompt and the session is left alone.
func (k *Kiosk) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return GenerateResult{}, ErrEmptyPrompt
	}

	reply, err := k.producer.Produce(ctx, prompt)
	if err != nil {
		k.metrics.ObserveGeneration(generationOutcome(err))
		k.SetDraft(prompt)
		k.publishError("generation_failed", "textgen", err)
		return GenerateResult{}, err
	}
	k.metrics.ObserveGeneration("ok")
	k.SetDraft(reply)

	res := GenerateResult{Reply: reply}
	if k.sessions.State() != session.StateReady {
		return res, nil
	}
	if err := k.speak(ctx, SourceGenerate, reply); err != nil {
		return res, err
	}
	res.Spoken = true
	return res, nil
}

func (k *Kiosk) Draft() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.draft
}

func (k *Kiosk) SetDraft(text string) {
	k.mu.Lock()
	k.draft = text
	k.mu.Unlock()
	k.publish(protocol.DraftUpdated{Type: protocol.TypeDraftUpdated, Draft: text})
}

// Viewer returns the viewer input for the ready session.
func (k *Kiosk) Viewer() (viewer.Params, error) {
	desc, token, ok := k.sessions.Credentials()
	if !ok {
		return viewer.Params{}, &session.NotReadyError{State: k.sessions.State()}
	}
	return viewer.NewParams(desc, token, k.cfg.AvatarName), nil
}

func (k *Kiosk) ViewerHTML() (string, error) {
	p, err := k.Viewer()
	if err != nil {
		return "", err
	}
	return viewer.Render(k.cfg.ViewerTemplate, p)
}

func (k *Kiosk) Status() Status {
	k.mu.Lock()
	st := Status{
		PopupDone:    k.popupDone,
		AmbientAudio: k.ambient,
		Draft:        k.draft,
	}
	if k.visitor != nil {
		view := k.visitor.View()
		st.Visitor = &view
	}
	k.mu.Unlock()
	st.Warmup = k.warmup.Window()
	st.Session = k.sessions.Snapshot()
	return st
}

func (k *Kiosk) Ledger(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return k.ledger.Recent(ctx, limit)
}

// Subscribe returns a stream of protocol events. Slow subscribers drop events.
func (k *Kiosk) Subscribe() (<-chan any, func()) {
	ch := make(chan any, subscriberBuffer)
	k.subMu.Lock()
	defer k.subMu.Unlock()
	if k.closed {
		close(ch)
		return ch, func() {}
	}
	id := k.nextSub
	k.nextSub++
	k.subs[id] = ch
	return ch, func() {
		k.subMu.Lock()
		defer k.subMu.Unlock()
		if c, ok := k.subs[id]; ok {
			delete(k.subs, id)
			close(c)
		}
	}
}

// Shutdown stops the live session once and closes all subscriber streams.
func (k *Kiosk) Shutdown(ctx context.Context) {
	k.shutdownOnce.Do(func() {
		k.sessions.Shutdown(ctx)
		k.subMu.Lock()
		k.closed = true
		for id, ch := range k.subs {
			delete(k.subs, id)
			close(ch)
		}
		k.subMu.Unlock()
	})
}

func (k *Kiosk) speak(ctx context.Context, source, text string) error {
	snap := k.sessions.Snapshot()
	err := k.sessions.Speak(ctx, text)
	k.metrics.ObserveSpeak(source, speakOutcome(err))
	if err != nil {
		var notReady *session.NotReadyError
		if !errors.As(err, &notReady) && !errors.Is(err, session.ErrEmptyText) {
			k.publishError("speak_failed", "session", err)
		}
		return err
	}
	k.publish(protocol.AvatarSpoken{
		Type:      protocol.TypeAvatarSpoken,
		SessionID: snap.SessionID(),
		Source:    source,
		Text:      strings.TrimSpace(text),
	})
	return nil
}

func (k *Kiosk) evaluateWarmup(now time.Time) {
	window := k.warmup.Window()
	ready := k.sessions.State() == session.StateReady
	stop, reason := k.warmup.Evaluate(now, ready)
	if !stop {
		return
	}

	k.mu.Lock()
	k.ambient = false
	k.mu.Unlock()

	k.metrics.ObserveWarmupStop(string(reason), now.Sub(window.ArmedAt))
	k.publish(protocol.AmbientAudio{Type: protocol.TypeAmbientAudio, Playing: false, Reason: string(reason)})
}

func (k *Kiosk) onSessionEvent(ev session.Event) {
	entry := ledger.Entry{
		SessionID: ev.SessionID,
		Event:     string(ev.Type),
		State:     string(ev.State),
		CreatedAt: ev.At.UTC(),
	}
	if ev.Err != nil {
		entry.Detail = ev.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	if err := k.ledger.Append(ctx, entry); err != nil {
		log.Printf("ledger append failed: event=%s err=%v", ev.Type, err)
	}
	cancel()

	k.publish(protocol.SessionState{
		Type:      protocol.TypeSessionState,
		State:     string(ev.State),
		SessionID: ev.SessionID,
		Detail:    entry.Detail,
	})

	if ev.Type == session.EventReady {
		k.evaluateWarmup(k.now())
	}
}

func (k *Kiosk) publish(msg any) {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	for _, ch := range k.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (k *Kiosk) publishError(code, source string, err error) {
	k.publish(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    source,
		Retryable: isRetryable(err),
		Detail:    err.Error(),
	})
}
