// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/metrics"
	"github.com/adiadia/agent-observability/internal/stream"
	"github.com/gorilla/websocket"
)

type EventStore interface {
	Insert(ctx context.Context, ev domain.NewEvent) (domain.Event, error)
	RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
	FilterOptions(ctx context.Context) (domain.FilterOptions, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type Options struct {
	SnapshotSize int
	RecentLimit  int
	Logger       *slog.Logger
}

// EventService ties the store to the live stream. One mutex sequences
// insert+broadcast and snapshot+register, so every client sees events in
// insertion order with nothing lost or repeated between its snapshot and
// live delivery.
type EventService struct {
	store       EventStore
	registry    *stream.Registry
	broadcaster *stream.Broadcaster
	logger      *slog.Logger

	snapshotSize int
	recentLimit  int

	mu           sync.Mutex
	shuttingDown bool
}

func NewEventService(store EventStore, registry *stream.Registry, opts Options) *EventService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SnapshotSize <= 0 {
		opts.SnapshotSize = domain.DefaultSnapshotSize
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = domain.DefaultRecentLimit
	}
	if opts.SnapshotSize > domain.MaxRecentLimit {
		opts.Logger.Warn("snapshot size above maximum, clamping",
			"configured", opts.SnapshotSize,
			"max", domain.MaxRecentLimit,
		)
		opts.SnapshotSize = domain.MaxRecentLimit
	}
	if opts.RecentLimit > domain.MaxRecentLimit {
		opts.Logger.Warn("recent limit above maximum, clamping",
			"configured", opts.RecentLimit,
			"max", domain.MaxRecentLimit,
		)
		opts.RecentLimit = domain.MaxRecentLimit
	}

	return &EventService{
		store:        store,
		registry:     registry,
		broadcaster:  stream.NewBroadcaster(registry, opts.Logger),
		logger:       opts.Logger,
		snapshotSize: opts.SnapshotSize,
		recentLimit:  opts.RecentLimit,
	}
}

// Ingest validates, stores and broadcasts one event. Invalid events never
// reach the store; store failures are not broadcast.
func (s *EventService) Ingest(ctx context.Context, ev domain.NewEvent) (domain.Event, error) {
	valid, err := ev.Validate()
	if err != nil {
		metrics.IncEventsIngested(metrics.IngestRejected)
		return domain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	stored, err := s.store.Insert(ctx, valid)
	metrics.ObserveInsertDuration(time.Since(start))
	if err != nil {
		if domain.IsValidationError(err) {
			metrics.IncEventsIngested(metrics.IngestRejected)
		} else {
			metrics.IncEventsIngested(metrics.IngestFailed)
		}
		return domain.Event{}, err
	}
	metrics.IncEventsIngested(metrics.IngestStored)

	delivered := s.broadcaster.Broadcast(stored)
	s.logger.Debug("event ingested",
		"event_id", stored.ID,
		"source_app", stored.SourceApp,
		"hook_event_type", stored.HookEventType,
		"delivered", delivered,
	)

	return stored, nil
}

// Attach queues the snapshot of recent events as the client's first message
// and registers it for live events.
func (s *EventService) Attach(ctx context.Context, c *stream.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return domain.ErrShuttingDown
	}

	events, err := s.store.RecentEvents(ctx, s.snapshotSize, 0)
	if err != nil {
		return fmt.Errorf("load stream snapshot: %w", err)
	}

	msg, err := stream.InitialMessage(events)
	if err != nil {
		return fmt.Errorf("serialize stream snapshot: %w", err)
	}
	if err := c.Enqueue(stream.TypeInitial, msg); err != nil {
		return fmt.Errorf("queue stream snapshot: %w", err)
	}

	s.registry.Register(c)
	s.logger.Info("stream client attached", "client_id", c.ID(), "snapshot", len(events), "clients", s.registry.Len())
	return nil
}

func (s *EventService) Detach(c *stream.Client) {
	if s.registry.Unregister(c) {
		s.logger.Info("stream client detached", "client_id", c.ID(), "clients", s.registry.Len())
	}
	c.Close(websocket.CloseNormalClosure, "")
}

// Shutdown refuses new attaches and closes every registered client.
func (s *EventService) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	closed := 0
	s.registry.ForEach(func(c *stream.Client) {
		c.Close(websocket.CloseGoingAway, "server shutting down")
		if s.registry.Unregister(c) {
			closed++
		}
	})
	s.logger.Info("stream clients closed for shutdown", "clients", closed)
}

// RecentEvents uses the configured default when limit is not positive.
func (s *EventService) RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	return s.store.RecentEvents(ctx, limit, offset)
}

func (s *EventService) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	return s.store.FilterOptions(ctx)
}

func (s *EventService) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

func (s *EventService) Check(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *EventService) Clients() int {
	return s.registry.Len()
}
