// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"sync"

	"github.com/adiadia/agent-observability/internal/metrics"
)

// Registry is the set of open stream clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}, 16),
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()

	metrics.SetStreamConnections(n)
}

// Unregister reports whether c was registered.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	_, ok := r.clients[c]
	delete(r.clients, c)
	n := len(r.clients)
	r.mu.Unlock()

	if ok {
		metrics.SetStreamConnections(n)
	}
	return ok
}

// ForEach visits the clients registered at the time of the call. The lock is
// released before visiting, so visit may call Register or Unregister.
func (r *Registry) ForEach(visit func(*Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		visit(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
