// Package heygen is a client for the HeyGen streaming avatar API (v1).
package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/avatarkiosk/internal/observability"
	"github.com/ent0n29/avatarkiosk/internal/reliability"
)

const (
	DefaultBaseURL = "https://api.heygen.com/v1"
	DefaultTimeout = 60 * time.Second

	OpCreateSession = "streaming.new"
	OpCreateToken   = "streaming.create_token"
	OpTask          = "streaming.task"
	OpStop          = "streaming.stop"
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Metrics *observability.Metrics

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client performs the four provider operations. It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	metrics *observability.Metrics
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  httpClient,
		metrics: cfg.Metrics,
	}
}

// CreateSession opens a new streaming session for the avatar. voiceID may be empty.
func (c *Client) CreateSession(ctx context.Context, avatarID, voiceID string) (SessionDescriptor, error) {
	req := createSessionRequest{
		AvatarID: strings.TrimSpace(avatarID),
		VoiceID:  strings.TrimSpace(voiceID),
	}
	endpoint, status, body, err := c.post(ctx, OpCreateSession, c.apiKeyHeaders(), req)
	if err != nil {
		return SessionDescriptor{}, err
	}

	data := asMap(body["data"])
	sessionID := asString(data["session_id"])
	offer := asString(firstMap(data, "offer", "sdp")["sdp"])
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(offer) == "" {
		return SessionDescriptor{}, &ProviderError{
			Op:       OpCreateSession,
			Endpoint: endpoint,
			Status:   status,
			Body:     body,
			Reason:   "missing session_id or offer in response",
		}
	}

	return SessionDescriptor{
		SessionID: sessionID,
		OfferSDP:  offer,
		ICE:       selectICE(data),
	}, nil
}

// CreateToken mints the bearer token scoped to sessionID.
func (c *Client) CreateToken(ctx context.Context, sessionID string) (string, error) {
	endpoint, status, body, err := c.post(ctx, OpCreateToken, c.apiKeyHeaders(), sessionIDRequest{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	data := asMap(body["data"])
	token := strings.TrimSpace(asString(data["token"]))
	if token == "" {
		token = strings.TrimSpace(asString(data["access_token"]))
	}
	if token == "" {
		return "", &ProviderError{
			Op:       OpCreateToken,
			Endpoint: endpoint,
			Status:   status,
			Body:     redactToken(body),
			Reason:   "missing token in response",
		}
	}
	return token, nil
}

// SendTask makes the avatar repeat text synchronously.
func (c *Client) SendTask(ctx context.Context, sessionID, token, text string) error {
	_, _, _, err := c.post(ctx, OpTask, bearerHeaders(token), TaskRequest{
		SessionID: sessionID,
		TaskType:  TaskTypeRepeat,
		TaskMode:  TaskModeSync,
		Text:      text,
	})
	return err
}

// StopSession closes the remote session. Callers treat failures as best-effort.
func (c *Client) StopSession(ctx context.Context, sessionID, token string) error {
	_, _, _, err := c.post(ctx, OpStop, bearerHeaders(token), sessionIDRequest{SessionID: sessionID})
	return err
}

func (c *Client) apiKeyHeaders() http.Header {
	h := http.Header{}
	h.Set("x-api-key", c.apiKey)
	return h
}

func bearerHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (c *Client) post(ctx context.Context, op string, headers http.Header, payload any) (string, int, map[string]any, error) {
	endpoint := c.baseURL + "/" + op
	started := time.Now()

	status, body, err := c.do(ctx, op, endpoint, headers, payload)
	c.metrics.ObserveProviderCall(op, reliability.Outcome(status, err), time.Since(started))
	return endpoint, status, body, err
}

func (c *Client) do(ctx context.Context, op, endpoint string, headers http.Header, payload any) (int, map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, &ProviderError{Op: op, Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, &ProviderError{Op: op, Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, &ProviderError{Op: op, Endpoint: endpoint, Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, &ProviderError{Op: op, Endpoint: endpoint, Status: res.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	body := parseBody(res.Header.Get("Content-Type"), raw)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res.StatusCode, body, &ProviderError{Op: op, Endpoint: endpoint, Status: res.StatusCode, Body: body}
	}
	return res.StatusCode, body, nil
}

// parseBody decodes a JSON object body. Anything else is kept verbatim under RawBodyKey.
func parseBody(contentType string, raw []byte) map[string]any {
	if jsonContentType(contentType) {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
			return obj
		}
	}
	return map[string]any{RawBodyKey: string(raw)}
}

func jsonContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// selectICE prefers ice_servers2, then ice_servers, then the public STUN
// default. The chosen list is passed through unchanged.
func selectICE(data map[string]any) ICEConfig {
	for _, key := range []string{"ice_servers2", "ice_servers"} {
		if list, ok := data[key].([]any); ok && len(list) > 0 {
			return ICEConfig{ICEServers: list}
		}
	}
	return DefaultICEConfig()
}

func redactToken(body map[string]any) map[string]any {
	data := asMap(body["data"])
	if len(data) == 0 {
		return body
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	cleaned := make(map[string]any, len(data))
	for k, v := range data {
		if strings.Contains(strings.ToLower(k), "token") {
			v = "[REDACTED]"
		}
		cleaned[k] = v
	}
	out["data"] = cleaned
	return out
}

func firstMap(obj map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if m := asMap(obj[k]); len(m) > 0 {
			return m
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
