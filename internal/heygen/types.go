package heygen

// DefaultSTUNServer is used when the provider returns no ICE servers.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// ICEConfig is the RTCConfiguration handed to the viewer. ICEServers holds the
// provider's entries exactly as decoded, so fields such as credentialType
// reach the browser untouched.
type ICEConfig struct {
	ICEServers []any `json:"iceServers"`
}

// DefaultICEConfig returns the public STUN fallback.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{ICEServers: []any{
		map[string]any{"urls": []any{DefaultSTUNServer}},
	}}
}

func (c ICEConfig) clone() ICEConfig {
	if c.ICEServers == nil {
		return ICEConfig{}
	}
	out := ICEConfig{ICEServers: make([]any, len(c.ICEServers))}
	for i, s := range c.ICEServers {
		out.ICEServers[i] = cloneJSON(s)
	}
	return out
}

// cloneJSON deep-copies a value produced by encoding/json.
func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSON(e)
		}
		return out
	default:
		return v
	}
}

// SessionDescriptor identifies one streaming session and carries its
// negotiation data. Values returned by this package are never shared.
type SessionDescriptor struct {
	SessionID string    `json:"session_id"`
	OfferSDP  string    `json:"offer_sdp"`
	ICE       ICEConfig `json:"rtc_config"`
}

// Clone returns a deep copy.
func (d SessionDescriptor) Clone() SessionDescriptor {
	d.ICE = d.ICE.clone()
	return d
}

type createSessionRequest struct {
	AvatarID string `json:"avatar_id"`
	VoiceID  string `json:"voice_id,omitempty"`
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

// TaskRequest is the body of a speak task.
type TaskRequest struct {
	SessionID string `json:"session_id"`
	TaskType  string `json:"task_type"`
	TaskMode  string `json:"task_mode"`
	Text      string `json:"text"`
}

const (
	TaskTypeRepeat = "repeat"
	TaskModeSync   = "sync"
)
