package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeSessionState  MessageType = "session_state"
	TypeAmbientAudio  MessageType = "ambient_audio"
	TypeAvatarSpoken  MessageType = "avatar_spoken"
	TypeDraftUpdated  MessageType = "draft_updated"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionStart       = "start"
	ActionEnd         = "end"
	ActionTap         = "tap"
	ActionSpeak       = "speak"
	ActionInstruction = "instruction"
	ActionGenerate    = "generate"
	ActionDraft       = "draft"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	PresetID int         `json:"preset_id,omitempty"`
	Text     string      `json:"text,omitempty"`
	TSMs     int64       `json:"ts_ms,omitempty"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	State     string      `json:"state"`
	SessionID string      `json:"session_id,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

type AmbientAudio struct {
	Type    MessageType `json:"type"`
	Playing bool        `json:"playing"`
	Reason  string      `json:"reason,omitempty"`
}

type AvatarSpoken struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Source    string      `json:"source"`
	Text      string      `json:"text"`
}

type DraftUpdated struct {
	Type  MessageType `json:"type"`
	Draft string      `json:"draft"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		if err := validateControl(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateControl(msg ClientControl) error {
	switch msg.Action {
	case ActionStart, ActionEnd, ActionInstruction, ActionDraft:
		return nil
	case ActionTap:
		if msg.PresetID <= 0 {
			return errors.New("invalid client_control: tap requires preset_id")
		}
		return nil
	case ActionSpeak, ActionGenerate:
		if strings.TrimSpace(msg.Text) == "" {
			return fmt.Errorf("invalid client_control: %s requires text", msg.Action)
		}
		return nil
	case "":
		return errors.New("invalid client_control: missing action")
	default:
		return fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
	}
}
