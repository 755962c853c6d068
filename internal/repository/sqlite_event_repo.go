// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
)

// SQLiteEventRepository stores events in a single sqlite table through one
// shared database handle.
type SQLiteEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    clock
}

func NewSQLiteEventRepository(db *sql.DB, logger *slog.Logger) *SQLiteEventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteEventRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *SQLiteEventRepository) Insert(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	valid, err := ev.Validate()
	if err != nil {
		return domain.Event{}, err
	}

	timestamp := valid.TimestampOr(r.now())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (source_app, session_id, hook_event_type, payload, chat, summary, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		valid.SourceApp,
		valid.SessionID,
		valid.HookEventType,
		string(valid.Payload),
		chatColumn(valid.Chat),
		valid.Summary,
		timestamp,
	)
	if err != nil {
		r.logger.Error("insert event failed",
			"source_app", valid.SourceApp,
			"session_id", valid.SessionID,
			"error", err,
		)
		return domain.Event{}, domain.NewStorageError("insert event", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		r.logger.Error("read inserted event id failed", "error", err)
		return domain.Event{}, domain.NewStorageError("insert event", err)
	}

	return valid.Stored(id, timestamp), nil
}

func (r *SQLiteEventRepository) RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	limit = domain.NormalizeLimit(limit)
	offset = normalizeOffset(offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		r.logger.Error("recent events query failed", "limit", limit, "offset", offset, "error", err)
		return nil, domain.NewStorageError("recent events", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			r.logger.Error("scan event row failed", "error", err)
			return nil, domain.NewStorageError("recent events", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed", "error", err)
		return nil, domain.NewStorageError("recent events", err)
	}

	return chronological(out), nil
}

func (r *SQLiteEventRepository) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	sourceApps, err := r.strings(ctx, `SELECT DISTINCT source_app FROM events ORDER BY source_app`)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter source apps", err)
	}

	sessionIDs, err := r.strings(ctx, `
		SELECT session_id FROM (
			SELECT session_id, MAX(timestamp) AS last_seen, MAX(id) AS last_id
			FROM events
			GROUP BY session_id
			ORDER BY last_seen DESC, last_id DESC
			LIMIT ?
		)
		ORDER BY session_id DESC
	`, domain.SessionFilterLimit)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter session ids", err)
	}

	hookEventTypes, err := r.strings(ctx, `SELECT DISTINCT hook_event_type FROM events ORDER BY hook_event_type`)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter hook event types", err)
	}

	return domain.FilterOptions{
		SourceApps:     sourceApps,
		SessionIDs:     sessionIDs,
		HookEventTypes: hookEventTypes,
	}, nil
}

func (r *SQLiteEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		r.logger.Error("count events failed", "error", err)
		return 0, domain.NewStorageError("count events", err)
	}
	return count, nil
}

func (r *SQLiteEventRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteEventRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("distinct values query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return emptyIfNil(values), nil
}
