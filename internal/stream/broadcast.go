// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	TypeInitial = "initial"
	TypeEvent   = "event"
)

// Envelope is the JSON frame sent to stream clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InitialMessage serializes the snapshot frame. A nil slice becomes [].
func InitialMessage(events []domain.Event) ([]byte, error) {
	if events == nil {
		events = []domain.Event{}
	}
	return json.Marshal(Envelope{Type: TypeInitial, Data: events})
}

func EventMessage(ev domain.Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeEvent, Data: ev})
}

type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast serializes ev once and queues it on every registered client.
// Clients that cannot accept it are dropped and unregistered without
// waiting on their sockets. It returns the number of clients the event was
// queued on.
func (b *Broadcaster) Broadcast(ev domain.Event) int {
	start := time.Now()
	defer func() {
		metrics.ObserveBroadcastDuration(time.Since(start))
	}()

	msg, err := EventMessage(ev)
	if err != nil {
		b.logger.Error("serialize event for broadcast failed", "event_id", ev.ID, "error", err)
		return 0
	}

	delivered := 0
	b.registry.ForEach(func(c *Client) {
		if err := c.Enqueue(TypeEvent, msg); err != nil {
			b.drop(c, err)
			return
		}
		delivered++
	})

	return delivered
}

func (b *Broadcaster) drop(c *Client, cause error) {
	reason := metrics.DropClosed
	if errors.Is(cause, ErrQueueFull) {
		reason = metrics.DropQueueFull
	}

	c.Drop(websocket.CloseTryAgainLater, "send queue overflow")
	if b.registry.Unregister(c) {
		metrics.IncStreamClientsDropped(reason)
		b.logger.Warn("stream client dropped", "client_id", c.ID(), "reason", reason)
	}
}
