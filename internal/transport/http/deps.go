// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/stream"
)

type EventIngester interface {
	Ingest(ctx context.Context, ev domain.NewEvent) (domain.Event, error)
}

type EventQuerier interface {
	RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
	FilterOptions(ctx context.Context) (domain.FilterOptions, error)
	Count(ctx context.Context) (int64, error)
}

type StreamAttacher interface {
	Attach(ctx context.Context, c *stream.Client) error
	Detach(c *stream.Client)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
