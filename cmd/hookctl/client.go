// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
)

const defaultRequestTimeout = 5 * time.Second

type apiClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func newAPIClient(baseURL string, timeout time.Duration, logger *slog.Logger) *apiClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &apiClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *apiClient) sendEvent(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return domain.Event{}, fmt.Errorf("encode event: %w", err)
	}

	var stored domain.Event
	if err := c.do(ctx, http.MethodPost, "/events", bytes.NewReader(body), &stored); err != nil {
		return domain.Event{}, err
	}
	c.logger.Debug("event sent", "id", stored.ID, "hook_event_type", stored.HookEventType)
	return stored, nil
}

func (c *apiClient) count(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/events/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *apiClient) filterOptions(ctx context.Context) (domain.FilterOptions, error) {
	var opts domain.FilterOptions
	if err := c.do(ctx, http.MethodGet, "/events/filter-options", nil, &opts); err != nil {
		return domain.FilterOptions{}, err
	}
	return opts, nil
}

// streamURL maps the http(s) base URL onto the ws(s) stream endpoint.
func (c *apiClient) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	return u.String(), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
