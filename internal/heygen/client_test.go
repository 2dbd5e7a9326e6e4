package heygen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(path string) (int, string, string)
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body is not JSON: %q", string(raw))
		}
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		f.mu.Unlock()

		status, contentType, payload := f.reply(r.URL.Path)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	})
}

func (f *fakeProvider) lastCall(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("provider was not called")
	}
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, reply func(path string) (int, string, string)) (*Client, *fakeProvider) {
	t.Helper()
	fp := &fakeProvider{reply: reply}
	ts := httptest.NewServer(fp.handler(t))
	t.Cleanup(ts.Close)
	return NewClient(Config{APIKey: "key-123", BaseURL: ts.URL + "/v1/"}), fp
}

func jsonReply(status int, payload string) func(string) (int, string, string) {
	return func(string) (int, string, string) {
		return status, "application/json", payload
	}
}

func TestCreateSessionPrefersIceServers2(t *testing.T) {
	c, fp := newTestClient(t, jsonReply(200, `{"data":{
		"session_id":"s1",
		"offer":{"sdp":"v=0\r\n"},
		"ice_servers2":[{"urls":["stun:x"]}],
		"ice_servers":[{"urls":["stun:y"]}]
	}}`))

	desc, err := c.CreateSession(context.Background(), "June_HR_public", "voice-1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if desc.SessionID != "s1" {
		t.Fatalf("SessionID = %q, want %q", desc.SessionID, "s1")
	}
	if desc.OfferSDP != "v=0\r\n" {
		t.Fatalf("OfferSDP = %q, want raw SDP", desc.OfferSDP)
	}
	want := []any{map[string]any{"urls": []any{"stun:x"}}}
	if !reflect.DeepEqual(desc.ICE.ICEServers, want) {
		t.Fatalf("ICEServers = %+v, want %+v", desc.ICE.ICEServers, want)
	}

	call := fp.lastCall(t)
	if call.Path != "/v1/streaming.new" {
		t.Fatalf("path = %q, want /v1/streaming.new", call.Path)
	}
	if got := call.Header.Get("x-api-key"); got != "key-123" {
		t.Fatalf("x-api-key = %q, want key-123", got)
	}
	if got := call.Header.Get("Authorization"); got != "" {
		t.Fatalf("Authorization = %q, want empty", got)
	}
	wantBody := map[string]any{"avatar_id": "June_HR_public", "voice_id": "voice-1"}
	if !reflect.DeepEqual(call.Body, wantBody) {
		t.Fatalf("body = %+v, want %+v", call.Body, wantBody)
	}
}

func TestCreateSessionFallsBackToIceServers(t *testing.T) {
	c, _ := newTestClient(t, jsonReply(200, `{"data":{
		"session_id":"s1",
		"sdp":{"sdp":"v=0"},
		"ice_servers2":[],
		"ice_servers":[{"urls":"turn:y","username":"u","credential":"p","credentialType":"password"}]
	}}`))

	desc, err := c.CreateSession(context.Background(), "a", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if desc.OfferSDP != "v=0" {
		t.Fatalf("OfferSDP = %q, want offer from data.sdp.sdp", desc.OfferSDP)
	}
	want := []any{map[string]any{"urls": "turn:y", "username": "u", "credential": "p", "credentialType": "password"}}
	if !reflect.DeepEqual(desc.ICE.ICEServers, want) {
		t.Fatalf("ICEServers = %+v, want %+v", desc.ICE.ICEServers, want)
	}
}

func TestCreateSessionDefaultsToPublicSTUN(t *testing.T) {
	c, fp := newTestClient(t, jsonReply(200, `{"data":{"session_id":"s1","offer":{"sdp":"v=0"}}}`))

	desc, err := c.CreateSession(context.Background(), "a", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if !reflect.DeepEqual(desc.ICE, DefaultICEConfig()) {
		t.Fatalf("ICE = %+v, want default STUN", desc.ICE)
	}
	if _, ok := fp.lastCall(t).Body["voice_id"]; ok {
		t.Fatalf("voice_id should be omitted when empty")
	}
}

func TestCreateSessionMissingFieldsIsProviderError(t *testing.T) {
	cases := map[string]string{
		"no session id":  `{"data":{"offer":{"sdp":"v=0"}}}`,
		"no offer":       `{"data":{"session_id":"s1"}}`,
		"empty offer":    `{"data":{"session_id":"s1","offer":{"sdp":""}}}`,
		"no data":        `{"code":100}`,
		"offer not sdp":  `{"data":{"session_id":"s1","offer":{"type":"offer"}}}`,
		"blank sessions": `{"data":{"session_id":"  ","offer":{"sdp":"v=0"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, jsonReply(200, payload))
			desc, err := c.CreateSession(context.Background(), "a", "")
			var perr *ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("CreateSession() error = %v, want *ProviderError", err)
			}
			if perr.Status != 200 || perr.Op != OpCreateSession {
				t.Fatalf("ProviderError = %+v, want status 200 op %s", perr, OpCreateSession)
			}
			if desc.SessionID != "" || desc.OfferSDP != "" {
				t.Fatalf("partial descriptor returned: %+v", desc)
			}
		})
	}
}

func TestNon2xxCarriesEndpointStatusAndBody(t *testing.T) {
	c, _ := newTestClient(t, jsonReply(401, `{"code":401,"message":"bad key"}`))

	_, err := c.CreateSession(context.Background(), "a", "")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if perr.Status != 401 {
		t.Fatalf("Status = %d, want 401", perr.Status)
	}
	if !strings.HasSuffix(perr.Endpoint, "/v1/streaming.new") {
		t.Fatalf("Endpoint = %q, want streaming.new", perr.Endpoint)
	}
	if perr.Body["message"] != "bad key" {
		t.Fatalf("Body = %+v, want parsed JSON", perr.Body)
	}
	if perr.Retryable() {
		t.Fatalf("401 should not be retryable")
	}
}

func TestNonJSONBodyKeptUnderRawSentinel(t *testing.T) {
	c, _ := newTestClient(t, func(string) (int, string, string) {
		return 502, "text/html", "<html>bad gateway</html>"
	})

	err := c.SendTask(context.Background(), "s1", "tok", "hi")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if perr.Body[RawBodyKey] != "<html>bad gateway</html>" {
		t.Fatalf("Body = %+v, want raw text under %q", perr.Body, RawBodyKey)
	}
	if !perr.Retryable() {
		t.Fatalf("502 should be retryable")
	}
}

func TestMalformedJSONWithSuccessStatusIsStillParsedAsRaw(t *testing.T) {
	c, _ := newTestClient(t, jsonReply(200, `not json`))
	_, err := c.CreateToken(context.Background(), "s1")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if perr.Body[RawBodyKey] != "not json" {
		t.Fatalf("Body = %+v, want raw sentinel", perr.Body)
	}
}

func TestCreateTokenFieldNames(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"token", `{"data":{"token":"tok1"}}`, "tok1"},
		{"access_token", `{"data":{"access_token":"tok2"}}`, "tok2"},
		{"token wins", `{"data":{"token":"tok1","access_token":"tok2"}}`, "tok1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, fp := newTestClient(t, jsonReply(200, tc.payload))
			got, err := c.CreateToken(context.Background(), "s1")
			if err != nil {
				t.Fatalf("CreateToken() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("CreateToken() = %q, want %q", got, tc.want)
			}
			call := fp.lastCall(t)
			if call.Path != "/v1/streaming.create_token" {
				t.Fatalf("path = %q", call.Path)
			}
			if !reflect.DeepEqual(call.Body, map[string]any{"session_id": "s1"}) {
				t.Fatalf("body = %+v", call.Body)
			}
		})
	}
}

func TestCreateTokenMissingIsProviderError(t *testing.T) {
	c, _ := newTestClient(t, jsonReply(200, `{"data":{"session_token_hint":"x"}}`))
	_, err := c.CreateToken(context.Background(), "s1")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if strings.Contains(perr.Error(), `"x"`) {
		t.Fatalf("token-like fields must be redacted in error: %s", perr.Error())
	}
}

func TestSendTaskPayloadAndBearer(t *testing.T) {
	c, fp := newTestClient(t, jsonReply(200, `{"code":100,"data":{}}`))

	if err := c.SendTask(context.Background(), "s1", "tok1", "hello"); err != nil {
		t.Fatalf("SendTask() error = %v", err)
	}
	call := fp.lastCall(t)
	if call.Path != "/v1/streaming.task" {
		t.Fatalf("path = %q", call.Path)
	}
	if got := call.Header.Get("Authorization"); got != "Bearer tok1" {
		t.Fatalf("Authorization = %q, want Bearer tok1", got)
	}
	if got := call.Header.Get("x-api-key"); got != "" {
		t.Fatalf("x-api-key = %q, want empty on bearer calls", got)
	}
	want := map[string]any{
		"session_id": "s1",
		"task_type":  "repeat",
		"task_mode":  "sync",
		"text":       "hello",
	}
	if !reflect.DeepEqual(call.Body, want) {
		t.Fatalf("body = %+v, want %+v", call.Body, want)
	}
}

func TestStopSessionPayload(t *testing.T) {
	c, fp := newTestClient(t, jsonReply(200, `{}`))
	if err := c.StopSession(context.Background(), "s1", "tok1"); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	call := fp.lastCall(t)
	if call.Path != "/v1/streaming.stop" {
		t.Fatalf("path = %q", call.Path)
	}
	if !reflect.DeepEqual(call.Body, map[string]any{"session_id": "s1"}) {
		t.Fatalf("body = %+v", call.Body)
	}
	if got := call.Header.Get("Authorization"); got != "Bearer tok1" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestTimeoutIsProviderError(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := NewClient(Config{APIKey: "k", BaseURL: ts.URL, Timeout: 50 * time.Millisecond})
	_, err := c.CreateSession(context.Background(), "a", "")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if perr.Status != 0 || !perr.Timeout() {
		t.Fatalf("ProviderError = %+v, want status 0 timeout", perr)
	}
}
