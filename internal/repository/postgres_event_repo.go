// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgEventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary, "timestamp"`

type PostgresEventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    clock
}

func NewPostgresEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *PostgresEventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEventRepository{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

func (r *PostgresEventRepository) Insert(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	valid, err := ev.Validate()
	if err != nil {
		return domain.Event{}, err
	}

	timestamp := valid.TimestampOr(r.now())

	var id int64
	if err := r.pool.QueryRow(ctx, `
		INSERT INTO events (source_app, session_id, hook_event_type, payload, chat, summary, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		valid.SourceApp,
		valid.SessionID,
		valid.HookEventType,
		string(valid.Payload),
		chatColumn(valid.Chat),
		valid.Summary,
		timestamp,
	).Scan(&id); err != nil {
		r.logger.Error("insert event failed",
			"source_app", valid.SourceApp,
			"session_id", valid.SessionID,
			"error", err,
		)
		return domain.Event{}, domain.NewStorageError("insert event", err)
	}

	return valid.Stored(id, timestamp), nil
}

func (r *PostgresEventRepository) RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	limit = domain.NormalizeLimit(limit)
	offset = normalizeOffset(offset)

	rows, err := r.pool.Query(ctx, `
		SELECT `+pgEventColumns+`
		FROM events
		ORDER BY "timestamp" DESC, id DESC
		LIMIT $1 OFFSET $2
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

// FilterOptions orders with the C collation so results match the byte order
// sqlite uses.
func (r *PostgresEventRepository) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	sourceApps, err := r.strings(ctx, `SELECT DISTINCT source_app FROM events ORDER BY source_app COLLATE "C"`)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter source apps", err)
	}

	sessionIDs, err := r.strings(ctx, `
		SELECT recent.session_id FROM (
			SELECT session_id, MAX("timestamp") AS last_seen, MAX(id) AS last_id
			FROM events
			GROUP BY session_id
			ORDER BY last_seen DESC, last_id DESC
			LIMIT $1
		) AS recent
		ORDER BY recent.session_id COLLATE "C" DESC
	`, domain.SessionFilterLimit)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter session ids", err)
	}

	hookEventTypes, err := r.strings(ctx, `SELECT DISTINCT hook_event_type FROM events ORDER BY hook_event_type COLLATE "C"`)
	if err != nil {
		return domain.FilterOptions{}, domain.NewStorageError("filter hook event types", err)
	}

	return domain.FilterOptions{
		SourceApps:     sourceApps,
		SessionIDs:     sessionIDs,
		HookEventTypes: hookEventTypes,
	}, nil
}

func (r *PostgresEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		r.logger.Error("count events failed", "error", err)
		return 0, domain.NewStorageError("count events", err)
	}
	return count, nil
}

func (r *PostgresEventRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresEventRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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
