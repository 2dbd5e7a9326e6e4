// Package viewer prepares the input of the WebRTC viewer widget. The widget
// itself lives in the template and is owned by the kiosk front-end.
package viewer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ent0n29/avatarkiosk/internal/heygen"
)

//go:embed default.html
var defaultTemplate string

const (
	placeholderToken  = "__SESSION_TOKEN__"
	placeholderName   = "__AVATAR_NAME__"
	placeholderID     = "__SESSION_ID__"
	placeholderOffer  = "__OFFER_SDP__"
	placeholderConfig = "__RTC_CONFIG__"
)

// Params is everything the viewer needs to attach to a ready session.
type Params struct {
	SessionToken string           `json:"session_token"`
	SessionID    string           `json:"session_id"`
	OfferSDP     string           `json:"offer_sdp"`
	RTCConfig    heygen.ICEConfig `json:"rtc_config"`
	AvatarName   string           `json:"avatar_name"`
}

func NewParams(desc heygen.SessionDescriptor, token, avatarName string) Params {
	return Params{
		SessionToken: token,
		SessionID:    desc.SessionID,
		OfferSDP:     desc.OfferSDP,
		RTCConfig:    desc.ICE,
		AvatarName:   avatarName,
	}
}

// LoadTemplate reads the viewer template, or returns the built-in one when
// path is empty.
func LoadTemplate(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultTemplate, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read viewer template %s: %w", path, err)
	}
	return string(raw), nil
}

// Render substitutes the placeholders of tpl. String values are escaped for a
// JavaScript string literal without the surrounding quotes; the RTC config is
// inserted as a JSON object.
func Render(tpl string, p Params) (string, error) {
	rtc := p.RTCConfig
	if rtc.ICEServers == nil {
		rtc.ICEServers = []any{}
	}
	rtcJSON, err := json.Marshal(rtc)
	if err != nil {
		return "", fmt.Errorf("encode rtc config: %w", err)
	}
	r := strings.NewReplacer(
		placeholderToken, literal(p.SessionToken),
		placeholderName, literal(p.AvatarName),
		placeholderID, literal(p.SessionID),
		placeholderOffer, literal(p.OfferSDP),
		placeholderConfig, string(rtcJSON),
	)
	return r.Replace(tpl), nil
}

func literal(s string) string {
	b, err := json.Marshal(s)
	if err != nil || len(b) < 2 {
		return ""
	}
	return string(b[1 : len(b)-1])
}
