// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/stream"
)

func TestRouter_Root(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["message"] != "Multi-Agent Observability Server" {
		t.Fatalf("unexpected message %q", resp["message"])
	}
}

func TestRouter_IngestEvent(t *testing.T) {
	ingester := &mockIngester{}
	router := NewRouter(Deps{Events: ingester, Logger: discardLogger()})

	body := `{"source_app":"agent1","session_id":"s1","hook_event_type":"PreToolUse","payload":{"tool":"Bash"},"id":99,"extra":true}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %q", got)
	}

	var resp domain.Event
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 1 {
		t.Fatalf("expected store-assigned id 1 got %d", resp.ID)
	}
	if string(resp.Payload) != `{"tool":"Bash"}` {
		t.Fatalf("unexpected payload %s", resp.Payload)
	}
	if len(ingester.calls) != 1 || ingester.calls[0].HookEventType != "PreToolUse" {
		t.Fatalf("expected one ingest call got %+v", ingester.calls)
	}
}

func TestRouter_IngestEventTrailingSlash(t *testing.T) {
	ingester := &mockIngester{}
	router := NewRouter(Deps{Events: ingester, Logger: discardLogger()})

	body := `{"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

func TestRouter_IngestEventValidationError(t *testing.T) {
	ingester := &mockIngester{}
	router := NewRouter(Deps{Events: ingester, Logger: discardLogger()})

	body := `{"source_app":"a","hook_event_type":"Stop","payload":{}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != codeValidationFailed || resp.Field != "session_id" {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestRouter_IngestEventRejectsMalformedBodies(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{name: "empty body", body: "", status: http.StatusBadRequest, code: codeInvalidJSON},
		{name: "truncated json", body: `{"source_app":`, status: http.StatusBadRequest, code: codeInvalidJSON},
		{name: "array body", body: `[1,2]`, status: http.StatusBadRequest, code: codeInvalidJSON},
		{name: "two objects", body: `{} {}`, status: http.StatusBadRequest, code: codeInvalidJSON},
		{name: "string timestamp", body: `{"timestamp":"now"}`, status: http.StatusBadRequest, code: codeValidationFailed, field: "timestamp"},
		{name: "numeric source app", body: `{"source_app":7}`, status: http.StatusBadRequest, code: codeValidationFailed, field: "source_app"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ingester := &mockIngester{}
			router := NewRouter(Deps{Events: ingester, Logger: discardLogger()})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(tc.body)))

			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, rec.Code)
			}
			resp := decodeError(t, rec)
			if resp.Error != tc.code || resp.Field != tc.field {
				t.Fatalf("unexpected error body %+v", resp)
			}
			if len(ingester.calls) != 0 {
				t.Fatal("expected malformed body not to reach the service")
			}
		})
	}
}

func TestRouter_IngestEventBodyTooLarge(t *testing.T) {
	ingester := &mockIngester{}
	router := NewRouter(Deps{Events: ingester, Logger: discardLogger(), MaxBodyBytes: 64})

	body := `{"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{"blob":"` + strings.Repeat("x", 128) + `"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413 got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != codePayloadTooLarge {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestRouter_IngestEventStorageError(t *testing.T) {
	ingester := &mockIngester{err: domain.NewStorageError("insert event", errors.New("disk I/O error"))}
	router := NewRouter(Deps{Events: ingester, Logger: discardLogger()})

	body := `{"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != codeStorageError {
		t.Fatalf("unexpected error body %+v", resp)
	}
	if strings.Contains(resp.Message, "disk") {
		t.Fatalf("expected internal detail to be hidden, got %q", resp.Message)
	}
}

func TestRouter_IngestEventRateLimited(t *testing.T) {
	router := NewRouter(Deps{Events: &mockIngester{}, Logger: discardLogger(), RateLimitPerMinute: 1})

	body := `{"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{}}`
	post := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.RemoteAddr = "10.1.1.1:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("/events"); rec.Code != http.StatusOK {
		t.Fatalf("expected first post allowed got %d", rec.Code)
	}
	rec := post("/events/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second post limited got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRouter_RateLimitIgnoresForwardedForByDefault(t *testing.T) {
	router := NewRouter(Deps{Events: &mockIngester{}, Logger: discardLogger(), RateLimitPerMinute: 1})

	accepted, limited := postFromRotatingForwardedFor(router, 50)
	if accepted != 1 || limited != 49 {
		t.Fatalf("expected 1 accepted and 49 limited got %d/%d", accepted, limited)
	}
}

func TestRouter_RateLimitUsesForwardedForWhenTrusted(t *testing.T) {
	router := NewRouter(Deps{
		Events:             &mockIngester{},
		Logger:             discardLogger(),
		RateLimitPerMinute: 1,
		TrustProxyHeaders:  true,
	})

	accepted, limited := postFromRotatingForwardedFor(router, 5)
	if accepted != 5 || limited != 0 {
		t.Fatalf("expected each forwarded client limited separately, got %d/%d", accepted, limited)
	}
}

func postFromRotatingForwardedFor(router http.Handler, n int) (accepted, limited int) {
	body := `{"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{}}`
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		req.RemoteAddr = "10.1.1.1:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		switch rec.Code {
		case http.StatusOK:
			accepted++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	return accepted, limited
}

func TestRouter_RecentEvents(t *testing.T) {
	querier := &mockQuerier{events: []domain.Event{
		{ID: 3, SourceApp: "a", SessionID: "s", HookEventType: "E3", Payload: json.RawMessage(`{}`), Timestamp: 3},
		{ID: 4, SourceApp: "a", SessionID: "s", HookEventType: "E4", Payload: json.RawMessage(`{}`), Timestamp: 4},
	}}
	router := NewRouter(Deps{Queries: querier, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/recent?limit=2&offset=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if querier.limit != 2 || querier.offset != 1 {
		t.Fatalf("expected limit=2 offset=1 got %d/%d", querier.limit, querier.offset)
	}

	var events []domain.Event
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) != 2 || events[0].ID != 3 || events[1].ID != 4 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestRouter_RecentEventsDefaultsAndEmpty(t *testing.T) {
	querier := &mockQuerier{}
	router := NewRouter(Deps{Queries: querier, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if querier.limit != 0 || querier.offset != 0 {
		t.Fatalf("expected defaults to be left to the service, got %d/%d", querier.limit, querier.offset)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array got %s", body)
	}
}

func TestRouter_RecentEventsInvalidQuery(t *testing.T) {
	for _, target := range []string{
		"/events/recent?limit=abc",
		"/events/recent?limit=-1",
		"/events/recent?offset=1.5",
	} {
		querier := &mockQuerier{}
		router := NewRouter(Deps{Queries: querier, Logger: discardLogger()})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400 got %d", target, rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != codeInvalidQuery {
			t.Fatalf("%s: unexpected error body %+v", target, resp)
		}
		if querier.called {
			t.Fatalf("%s: expected querier not to be called", target)
		}
	}
}

func TestRouter_RecentEventsStorageError(t *testing.T) {
	router := NewRouter(Deps{Queries: &mockQuerier{err: errors.New("boom")}, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/recent", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != codeStorageError {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestRouter_FilterOptionsNeverNull(t *testing.T) {
	router := NewRouter(Deps{Queries: &mockQuerier{}, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/filter-options", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	want := `{"source_apps":[],"session_ids":[],"hook_event_types":[]}`
	if body := strings.TrimSpace(rec.Body.String()); body != want {
		t.Fatalf("expected %s got %s", want, body)
	}
}

func TestRouter_Count(t *testing.T) {
	router := NewRouter(Deps{Queries: &mockQuerier{count: 42}, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/count", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"count":42}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestRouter_StreamRejectsPlainHTTP(t *testing.T) {
	attacher := &mockAttacher{}
	router := NewRouter(Deps{Streams: attacher, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != codeProtocolError {
		t.Fatalf("unexpected error body %+v", resp)
	}
	if attacher.attached != 0 {
		t.Fatal("expected no client to be attached")
	}
}

func TestRouter_StreamRejectsNonGet(t *testing.T) {
	router := NewRouter(Deps{Streams: &mockAttacher{}, Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405 got %d", rec.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := NewRouter(Deps{Events: &mockIngester{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow origin got %q", got)
	}
}

func TestRouter_HealthzPreservesRequestID(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger(), Health: &mockHealthChecker{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-123" {
		t.Fatalf("expected request id header req-123 got %q", got)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok body got %q", rec.Body.String())
	}
}

func TestRouter_HealthzNotReadyWhenCheckFails(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger(), Health: &mockHealthChecker{err: errors.New("schema missing")}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	checker := &mockHealthChecker{}
	router := NewRouter(Deps{Logger: discardLogger(), Health: checker})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "healthy" || resp["timestamp"] == "" {
		t.Fatalf("unexpected health body %v", resp)
	}

	checker.err = errors.New("database is locked")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"status":"unhealthy"}` {
		t.Fatalf("unexpected unhealthy body %s", body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hook_events_ingested_total") {
		t.Fatal("expected hook_events_ingested_total in metrics output")
	}
}

func TestRouter_Version(t *testing.T) {
	router := NewRouter(Deps{
		Logger:    discardLogger(),
		Version:   "v1.2.3",
		Commit:    "abc123",
		BuildDate: "2026-01-02T03:04:05Z",
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["version"] != "v1.2.3" || resp["commit"] != "abc123" || resp["build_date"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected version body %v", resp)
	}
}

func TestRouter_VersionDefaults(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["version"] != "dev" || resp["commit"] != "none" || resp["build_date"] != "unknown" {
		t.Fatalf("unexpected defaults %v", resp)
	}
}

func TestWriteJSONSetsHeadersAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"hello": "world"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json got %q", got)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"hello":"world"`)) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://dashboard.local"})

	req := httptest.NewRequest(http.MethodGet, "http://events.local/stream", nil)
	if !check(req) {
		t.Fatal("expected request without Origin to be allowed")
	}

	req.Header.Set("Origin", "http://dashboard.local")
	if !check(req) {
		t.Fatal("expected listed origin to be allowed")
	}

	req.Header.Set("Origin", "http://events.local")
	if !check(req) {
		t.Fatal("expected same-host origin to be allowed")
	}

	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Fatal("expected unlisted origin to be rejected")
	}

	if !originChecker([]string{"*"})(req) {
		t.Fatal("expected wildcard to allow any origin")
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var resp errorBody
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Message == "" {
		t.Fatalf("expected error message in %+v", resp)
	}
	return resp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockIngester struct {
	calls []domain.NewEvent
	err   error
}

func (m *mockIngester) Ingest(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	m.calls = append(m.calls, ev)
	if m.err != nil {
		return domain.Event{}, m.err
	}
	valid, err := ev.Validate()
	if err != nil {
		return domain.Event{}, err
	}
	return valid.Stored(int64(len(m.calls)), 1_700_000_000_000), nil
}

type mockQuerier struct {
	events []domain.Event
	count  int64
	err    error

	called bool
	limit  int
	offset int
}

func (m *mockQuerier) RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	m.called = true
	m.limit = limit
	m.offset = offset
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

func (m *mockQuerier) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	if m.err != nil {
		return domain.FilterOptions{}, m.err
	}
	return domain.FilterOptions{}, nil
}

func (m *mockQuerier) Count(ctx context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.count, nil
}

type mockAttacher struct {
	attached int
}

func (m *mockAttacher) Attach(ctx context.Context, c *stream.Client) error {
	m.attached++
	return nil
}

func (m *mockAttacher) Detach(c *stream.Client) {}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Check(ctx context.Context) error {
	return m.err
}
