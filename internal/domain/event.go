// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultRecentLimit  = 100
	MaxRecentLimit      = 1000
	DefaultSnapshotSize = 50
	SessionFilterLimit  = 100
)

// Event is a stored hook event. Payload and Chat are opaque JSON documents.
type Event struct {
	ID            int64           `json:"id"`
	SourceApp     string          `json:"source_app"`
	SessionID     string          `json:"session_id"`
	HookEventType string          `json:"hook_event_type"`
	Payload       json.RawMessage `json:"payload"`
	Chat          json.RawMessage `json:"chat"`
	Summary       *string         `json:"summary"`
	Timestamp     int64           `json:"timestamp"`
}

// NewEvent is an event as submitted by an agent, before the store assigns
// its id. A nil or zero Timestamp means "now".
type NewEvent struct {
	SourceApp     string          `json:"source_app"`
	SessionID     string          `json:"session_id"`
	HookEventType string          `json:"hook_event_type"`
	Payload       json.RawMessage `json:"payload"`
	Chat          json.RawMessage `json:"chat,omitempty"`
	Summary       *string         `json:"summary,omitempty"`
	Timestamp     *int64          `json:"timestamp,omitempty"`
}

type FilterOptions struct {
	SourceApps     []string `json:"source_apps"`
	SessionIDs     []string `json:"session_ids"`
	HookEventTypes []string `json:"hook_event_types"`
}

// Validate checks the required envelope fields and the shape of the opaque
// documents. It returns a normalized copy: trimmed payload bytes, a nil Chat
// for JSON null, and a nil Timestamp for zero.
func (e NewEvent) Validate() (NewEvent, error) {
	if strings.TrimSpace(e.SourceApp) == "" {
		return NewEvent{}, NewValidationError("source_app", "is required")
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return NewEvent{}, NewValidationError("session_id", "is required")
	}
	if strings.TrimSpace(e.HookEventType) == "" {
		return NewEvent{}, NewValidationError("hook_event_type", "is required")
	}

	payload := bytes.TrimSpace(e.Payload)
	if len(payload) == 0 || isJSONNull(payload) {
		return NewEvent{}, NewValidationError("payload", "is required")
	}
	if payload[0] != '{' || !json.Valid(payload) {
		return NewEvent{}, NewValidationError("payload", "must be a JSON object")
	}
	e.Payload = payload

	chat := bytes.TrimSpace(e.Chat)
	switch {
	case len(chat) == 0 || isJSONNull(chat):
		e.Chat = nil
	case chat[0] != '[' || !json.Valid(chat):
		return NewEvent{}, NewValidationError("chat", "must be a JSON array or null")
	default:
		e.Chat = chat
	}

	if e.Timestamp != nil {
		switch {
		case *e.Timestamp < 0:
			return NewEvent{}, NewValidationError("timestamp", "must be a non-negative integer")
		case *e.Timestamp == 0:
			e.Timestamp = nil
		}
	}

	return e, nil
}

// TimestampOr returns the submitted timestamp, or now in epoch milliseconds.
func (e NewEvent) TimestampOr(now time.Time) int64 {
	if e.Timestamp != nil && *e.Timestamp > 0 {
		return *e.Timestamp
	}
	return now.UnixMilli()
}

// Stored builds the persisted event from a validated submission.
func (e NewEvent) Stored(id, timestamp int64) Event {
	return Event{
		ID:            id,
		SourceApp:     e.SourceApp,
		SessionID:     e.SessionID,
		HookEventType: e.HookEventType,
		Payload:       e.Payload,
		Chat:          e.Chat,
		Summary:       e.Summary,
		Timestamp:     timestamp,
	}
}

// NormalizeLimit applies the recent-events default and upper bound.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func isJSONNull(raw []byte) bool {
	return bytes.Equal(raw, []byte("null"))
}
