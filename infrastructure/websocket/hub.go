// Package websocket is the client session gateway: it terminates websocket
// connections, turns frames into router commands and pushes named events back.
package websocket

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

var _ contract.Broadcaster = (*Hub)(nil)

// Hub maps session ids to their outbound sinks. It is the local broadcast path.
type Hub struct {
	mu       sync.RWMutex
	log      *slog.Logger
	sessions map[string]contract.EventSink
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, sessions: make(map[string]contract.EventSink)}
}

func (h *Hub) Register(sessionID string, sink contract.EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = sink
}

func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendTo pushes an event to a single session.
func (h *Hub) SendTo(ctx context.Context, sessionID string, out chat.Outbound) error {
	h.mu.RLock()
	sink, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return errors.ErrSessionClosed
	}
	return sink.Consume(ctx, out)
}

// Broadcast pushes an event to every local session, best effort.
func (h *Hub) Broadcast(ctx context.Context, out chat.Outbound) {
	h.mu.RLock()
	targets := lo.Entries(h.sessions)
	h.mu.RUnlock()

	for _, target := range targets {
		if err := target.Value.Consume(ctx, out); err != nil {
			h.log.Warn("Dropped event for session",
				"session_id", target.Key, "event", out.Event, "error", err)
		}
	}
}
