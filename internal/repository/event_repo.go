// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"encoding/json"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
)

const eventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary, timestamp`

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		ev      domain.Event
		payload string
		chat    *string
	)
	if err := row.Scan(
		&ev.ID,
		&ev.SourceApp,
		&ev.SessionID,
		&ev.HookEventType,
		&payload,
		&chat,
		&ev.Summary,
		&ev.Timestamp,
	); err != nil {
		return domain.Event{}, err
	}

	ev.Payload = json.RawMessage(payload)
	if chat != nil {
		ev.Chat = json.RawMessage(*chat)
	}
	return ev, nil
}

// chatColumn maps an absent chat document to SQL NULL.
func chatColumn(chat json.RawMessage) any {
	if len(chat) == 0 {
		return nil
	}
	return string(chat)
}

// chronological reverses a newest-first page in place.
func chronological(events []domain.Event) []domain.Event {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type clock func() time.Time
