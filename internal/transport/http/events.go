// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adiadia/agent-observability/internal/domain"
)

var errBodyTooLarge = errors.New("request body too large")

func ingestHandler(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := decodeNewEvent(w, r, deps.MaxBodyBytes)
		if err != nil {
			writeDecodeError(w, err)
			return
		}

		stored, err := deps.Events.Ingest(r.Context(), ev)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				writeValidationError(w, ve)
				return
			}

			logger.Error("ingest event failed",
				"source_app", ev.SourceApp,
				"session_id", ev.SessionID,
				"hook_event_type", ev.HookEventType,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, codeStorageError, "failed to store event")
			return
		}

		writeJSON(w, http.StatusOK, stored)
	}
}

func recentEventsHandler(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		limit, err := nonNegativeQueryInt(query, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidQuery, err.Error())
			return
		}
		offset, err := nonNegativeQueryInt(query, "offset")
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidQuery, err.Error())
			return
		}

		events, err := deps.Queries.RecentEvents(r.Context(), limit, offset)
		if err != nil {
			logger.Error("recent events failed", "limit", limit, "offset", offset, "error", err)
			writeError(w, http.StatusInternalServerError, codeStorageError, "failed to load events")
			return
		}
		if events == nil {
			events = []domain.Event{}
		}

		writeJSON(w, http.StatusOK, events)
	}
}

func filterOptionsHandler(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := deps.Queries.FilterOptions(r.Context())
		if err != nil {
			logger.Error("filter options failed", "error", err)
			writeError(w, http.StatusInternalServerError, codeStorageError, "failed to load filter options")
			return
		}

		writeJSON(w, http.StatusOK, domain.FilterOptions{
			SourceApps:     nonNil(opts.SourceApps),
			SessionIDs:     nonNil(opts.SessionIDs),
			HookEventTypes: nonNil(opts.HookEventTypes),
		})
	}
}

func countHandler(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := deps.Queries.Count(r.Context())
		if err != nil {
			logger.Error("count events failed", "error", err)
			writeError(w, http.StatusInternalServerError, codeStorageError, "failed to count events")
			return
		}

		writeJSON(w, http.StatusOK, map[string]int64{"count": count})
	}
}

// decodeNewEvent reads exactly one JSON object. Fields of the wrong JSON
// type surface as validation errors naming the field.
func decodeNewEvent(w http.ResponseWriter, r *http.Request, maxBytes int64) (domain.NewEvent, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return domain.NewEvent{}, fmt.Errorf("%w: request body is empty", domain.ErrInvalidJSON)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var ev domain.NewEvent
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&ev); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.NewEvent{}, fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, maxErr.Limit)
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.NewEvent{}, domain.NewValidationError(typeErr.Field, "has the wrong type")
		}
		if errors.Is(err, io.EOF) {
			return domain.NewEvent{}, fmt.Errorf("%w: request body is empty", domain.ErrInvalidJSON)
		}
		return domain.NewEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidJSON, err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.NewEvent{}, fmt.Errorf("%w: request body must contain exactly one JSON object", domain.ErrInvalidJSON)
	}

	return ev, nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidationError(w, ve)
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, err.Error())
	default:
		writeError(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
	}
}

func nonNegativeQueryInt(query url.Values, key string) (int, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
