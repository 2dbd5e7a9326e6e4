package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/avatarkiosk/internal/config"
	"github.com/ent0n29/avatarkiosk/internal/kiosk"
	"github.com/ent0n29/avatarkiosk/internal/observability"
	"github.com/ent0n29/avatarkiosk/internal/protocol"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 120 * time.Second
)

type Server struct {
	cfg      config.Config
	kiosk    *kiosk.Kiosk
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, k *kiosk.Kiosk, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		kiosk:   k,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the kiosk page itself may drive the avatar from a browser.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/visitor", s.handleSubmitVisitor)
	r.Post("/v1/visitor/cancel", s.handleCancelVisitor)
	r.Post("/v1/avatar/start", s.handleStartAvatar)
	r.Post("/v1/avatar/end", s.handleEndAvatar)
	r.Post("/v1/avatar/speak", s.handleSpeak)
	r.Post("/v1/avatar/instruction", s.handleInstruction)
	r.Post("/v1/avatar/tap/{id}", s.handleTap)
	r.Get("/v1/avatar/viewer", s.handleViewer)
	r.Get("/v1/avatar/viewer.html", s.handleViewerHTML)
	r.Get("/v1/catalog", s.handleCatalog)
	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/draft", s.handleGetDraft)
	r.Put("/v1/draft", s.handlePutDraft)
	r.Get("/v1/ledger", s.handleLedger)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"generation_enabled": s.cfg.GenerationEnabled(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"session_state": s.kiosk.Status().Session.State,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.kiosk.Status())
}

type visitorRequest struct {
	NameTel string `json:"name_tel"`
}

func (s *Server) handleSubmitVisitor(w http.ResponseWriter, r *http.Request) {
	var req visitorRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	visitor, err := s.kiosk.SubmitVisitor(r.Context(), req.NameTel)
	if err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"visitor": visitor,
		"status":  s.kiosk.Status(),
	})
}

func (s *Server) handleCancelVisitor(w http.ResponseWriter, _ *http.Request) {
	s.kiosk.CancelVisitor()
	respondJSON(w, http.StatusOK, s.kiosk.Status())
}

func (s *Server) handleStartAvatar(w http.ResponseWriter, r *http.Request) {
	snap, err := s.kiosk.StartAvatar(r.Context())
	if err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEndAvatar(w http.ResponseWriter, r *http.Request) {
	stopped := s.kiosk.EndAvatar(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.kiosk.Speak(r.Context(), req.Text); err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"spoken": true})
}

func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	if err := s.kiosk.Instruction(r.Context()); err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"spoken": true})
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_preset_id", "preset id must be an integer")
		return
	}
	preset, err := s.kiosk.Tap(r.Context(), id)
	if err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preset)
}

func (s *Server) handleViewer(w http.ResponseWriter, _ *http.Request) {
	params, err := s.kiosk.Viewer()
	if err != nil {
		respondKioskError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, params)
}

func (s *Server) handleViewerHTML(w http.ResponseWriter, _ *http.Request) {
	html, err := s.kiosk.ViewerHTML()
	if err != nil {
		respondKioskError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.kiosk.Catalog())
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.kiosk.Generate(r.Context(), req.Prompt)
	if err != nil {
		respondKioskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type draftBody struct {
	Draft string `json:"draft"`
}

func (s *Server) handleGetDraft(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, draftBody{Draft: s.kiosk.Draft()})
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var req draftBody
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.kiosk.SetDraft(req.Draft)
	respondJSON(w, http.StatusOK, draftBody{Draft: s.kiosk.Draft()})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.LedgerRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.kiosk.Ledger(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.kiosk.Subscribe()
	defer unsubscribe()

	inbound := make(chan protocol.ClientControl, 32)
	outbound := make(chan any, 64)

	st := s.kiosk.Status()
	outbound <- protocol.SessionState{
		Type:      protocol.TypeSessionState,
		State:     string(st.Session.State),
		SessionID: st.Session.SessionID(),
		Detail:    st.Session.Failure,
	}
	outbound <- protocol.DraftUpdated{Type: protocol.TypeDraftUpdated, Draft: st.Draft}

	controlsDone := make(chan struct{})
	go func() {
		defer close(controlsDone)
		for msg := range inbound {
			if err := s.applyControl(ctx, msg); err != nil {
				s.queue(outbound, controlError(msg.Action, err))
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					cancel()
					return
				}
				continue
			case ev, ok := <-events:
				if !ok {
					_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					_ = conn.WriteJSON(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "kiosk_shutdown"})
					cancel()
					return
				}
				msg = ev
			case m := <-outbound:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(control.Type))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- control:
		}
	}

	cancel()
	close(inbound)
	<-controlsDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) applyControl(ctx context.Context, msg protocol.ClientControl) error {
	switch msg.Action {
	case protocol.ActionStart:
		_, err := s.kiosk.StartAvatar(ctx)
		return err
	case protocol.ActionEnd:
		s.kiosk.EndAvatar(ctx)
		return nil
	case protocol.ActionTap:
		_, err := s.kiosk.Tap(ctx, msg.PresetID)
		return err
	case protocol.ActionSpeak:
		return s.kiosk.Speak(ctx, msg.Text)
	case protocol.ActionInstruction:
		return s.kiosk.Instruction(ctx)
	case protocol.ActionGenerate:
		_, err := s.kiosk.Generate(ctx, msg.Text)
		return err
	case protocol.ActionDraft:
		s.kiosk.SetDraft(msg.Text)
		return nil
	default:
		return errors.New("unsupported action")
	}
}

func (s *Server) queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		// Keep websocket writes single-threaded; drop if outbound queue is saturated.
	}
}

func controlError(action string, err error) protocol.ErrorEvent {
	_, code := statusForError(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    action,
		Retryable: isRetryable(err),
		Detail:    err.Error(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondKioskError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	respondError(w, status, code, err.Error())
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.AmbientAudio:
		return m.Type, true
	case protocol.AvatarSpoken:
		return m.Type, true
	case protocol.DraftUpdated:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
