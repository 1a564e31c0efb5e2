// Package notifier is the background delivery worker: the push relay POSTs
// payloads to it and it shows a notification for each one.
package notifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults applied when a payload omits a field.
const (
	DefaultTitle = "Transport Verification"
	DefaultBody  = "Please check your transportation access request"
	DefaultIcon  = "/transport-icon.png"
	DefaultBadge = "/badge.png"
)

// Notification is what gets shown to the citizen.
type Notification struct {
	DeliveryID string
	Title      string
	Body       string
	Icon       string
	Badge      string
	Data       map[string]any
}

// ChallengeID returns the challenge the notification refers to, if the relay
// included one.
func (n Notification) ChallengeID() string {
	if v, ok := n.Data["challengeId"].(string); ok {
		return v
	}
	return ""
}

type pushPayload struct {
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Icon  string `json:"icon"`
		Badge string `json:"badge"`
	} `json:"notification"`
	Data map[string]any `json:"data"`
}

// ParsePayload decodes a relay payload and fills in defaults.
func ParsePayload(body []byte) (Notification, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("decode push payload: %w", err)
	}

	n := Notification{Data: p.Data}
	if p.Notification != nil {
		n.Title = strings.TrimSpace(p.Notification.Title)
		n.Body = strings.TrimSpace(p.Notification.Body)
		n.Icon = p.Notification.Icon
		n.Badge = p.Notification.Badge
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Body == "" {
		n.Body = DefaultBody
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}
	return n, nil
}
