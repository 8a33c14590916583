// Package chat contains the core concepts of the relay: chat events, sessions and the
// commands clients send. No runtime, network, or UI logic should be added here.
package chat

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindMessage     Kind = "message"
	KindVoice       Kind = "voice"
	KindSystemJoin  Kind = "system-join"
	KindSystemLeave Kind = "system-leave"
)

const (
	// TimestampLayout is second resolution wall clock time.
	TimestampLayout = "2006-01-02 15:04:05"
	// DefaultUsername is used whenever a session has no usable display name.
	DefaultUsername = "Anonymous"
	// SystemUsername authors every join and leave notice.
	SystemUsername = "System"
)

// Event is an immutable chat event, local or relayed from a peer instance.
// It is also the wire payload exchanged between instances.
type Event struct {
	Kind           Kind     `json:"kind" validate:"required,oneof=message voice system-join system-leave"`
	Username       string   `json:"username"`
	Body           string   `json:"body"`
	Timestamp      string   `json:"timestamp" validate:"required"`
	MessageID      string   `json:"message_id" validate:"required"`
	RosterSnapshot []string `json:"roster_snapshot,omitempty"`
	Origin         string   `json:"origin,omitempty"`
}

func (e Event) IsSystem() bool {
	return e.Kind == KindSystemJoin || e.Kind == KindSystemLeave
}

// NewMessage builds a text message event for the given session.
func NewMessage(sessionID, username, text string, at time.Time) Event {
	return newEvent(sessionID, KindMessage, DisplayName(username), text, at)
}

// NewVoice builds a voice event; payload is kept as the client sent it.
func NewVoice(sessionID, username, payload string, at time.Time) Event {
	return newEvent(sessionID, KindVoice, DisplayName(username), payload, at)
}

// NewJoin builds the notice broadcast when a session joins.
// The roster is copied so later registry mutations never leak into the event.
func NewJoin(sessionID, username string, roster []string, at time.Time) Event {
	evt := newEvent(sessionID, KindSystemJoin, SystemUsername,
		fmt.Sprintf("%s joined the chat", DisplayName(username)), at)
	evt.RosterSnapshot = append([]string{}, roster...)
	return evt
}

// NewLeave builds the notice broadcast when a registered session disconnects.
func NewLeave(sessionID, username string, roster []string, at time.Time) Event {
	evt := newEvent(sessionID, KindSystemLeave, SystemUsername,
		fmt.Sprintf("%s left the chat", DisplayName(username)), at)
	evt.RosterSnapshot = append([]string{}, roster...)
	return evt
}

func newEvent(sessionID string, kind Kind, username, body string, at time.Time) Event {
	return Event{
		Kind:      kind,
		Username:  username,
		Body:      body,
		Timestamp: at.Format(TimestampLayout),
		MessageID: NewMessageID(sessionID, kind, at),
	}
}

// DisplayName trims the name and falls back to DefaultUsername when nothing is left.
func DisplayName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return DefaultUsername
}
