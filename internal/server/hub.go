// Package server exposes the session over websockets plus a small HTTP
// surface for export/import, health, and metrics.
//
// Each connection binds to a seat (or becomes a read-only spectator) during
// its hello handshake. The hub fans session events out to every connection;
// state snapshots are redacted per viewer so players never see each other's
// unrevealed sheet details or pending inputs.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reverie-rp/reverie/internal/observe"
	"github.com/reverie-rp/reverie/internal/round"
	"github.com/reverie-rp/reverie/internal/state"
)

// broadcastTimeout bounds delivery of one event to one connection. A client
// that cannot keep up is dropped rather than allowed to stall the fan-out.
const broadcastTimeout = 5 * time.Second

// Hub tracks live connections and implements [round.Notifier].
type Hub struct {
	coord   *round.Coordinator
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ round.Notifier = (*Hub)(nil)

// NewHub creates an empty hub. The coordinator is attached afterwards via
// [Hub.Bind] because the two reference each other.
func NewHub(metrics *observe.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		metrics: metrics,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Bind attaches the coordinator. Must be called before the first connection.
func (h *Hub) Bind(c *round.Coordinator) { h.coord = c }

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ActiveConnections.Add(context.Background(), 1)
	if c.role != "" {
		h.metrics.ActivePlayers.Add(context.Background(), 1)
	}
	h.broadcastPresence()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !present {
		return
	}

	h.metrics.ActiveConnections.Add(context.Background(), -1)
	if c.role != "" {
		h.metrics.ActivePlayers.Add(context.Background(), -1)
		h.coord.RoleDisconnected(c.role)
	}
	h.broadcastPresence()
}

// snapshot returns the current client set.
func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// StateChanged implements round.Notifier: every connection gets a fresh
// snapshot redacted for its own viewpoint.
func (h *Hub) StateChanged() {
	h.fanOut(func(c *client) Event {
		return newEvent(EventState, h.coord.Snapshot(c.role))
	})
}

// Status implements round.Notifier.
func (h *Hub) Status(msg string) {
	ev := newEvent(EventStatus, StatusData{Message: msg})
	h.fanOut(func(*client) Event { return ev })
}

// Narration implements round.Notifier.
func (h *Hub) Narration(text string) {
	ev := newEvent(EventNarration, NarrationData{Text: text})
	h.fanOut(func(*client) Event { return ev })
}

// broadcastPresence tells everyone who is seated and who is typing.
func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	var data PresenceData
	seen := map[state.Role]bool{}
	for c := range h.clients {
		if c.role == "" {
			data.Spectators++
			continue
		}
		if !seen[c.role] {
			seen[c.role] = true
			data.Connected = append(data.Connected, c.role)
		}
		if c.typing.Load() {
			data.Typing = append(data.Typing, c.role)
		}
	}
	h.mu.RUnlock()

	ev := newEvent(EventPresence, data)
	h.fanOut(func(*client) Event { return ev })
}

// fanOut delivers a per-client event to every connection concurrently.
// Failed writes close the offending connection; the errgroup never carries an
// error upward because one bad client must not abort delivery to the rest.
func (h *Hub) fanOut(build func(*client) Event) {
	clients := h.snapshot()
	g := new(errgroup.Group)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
			defer cancel()
			if err := c.write(ctx, build(c)); err != nil {
				h.log.Warn("client write failed, dropping connection", "role", c.role, "error", err)
				c.close()
			}
			return nil
		})
	}
	_ = g.Wait()
}
