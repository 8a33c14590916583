package workers

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const DefaultPollInterval = 10 * time.Millisecond

// RelayWorker merges events published by peer instances into the local chat.
// It only feeds the router's Relay and ForgetPeer entry points, which never publish back.
// origins is only touched from Run, so it needs no lock.
type RelayWorker struct {
	log          *slog.Logger
	transport    contract.PeerTransport
	router       contract.IEventRouter
	instanceID   string
	pollInterval time.Duration
	origins      map[string]string // peer address -> instance id seen on that link
}

func NewRelayWorker(log *slog.Logger, transport contract.PeerTransport, router contract.IEventRouter,
	instanceID string, pollInterval time.Duration) *RelayWorker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &RelayWorker{
		log:          log,
		transport:    transport,
		router:       router,
		instanceID:   instanceID,
		pollInterval: pollInterval,
		origins:      make(map[string]string),
	}
}

func (w *RelayWorker) Run(ctx context.Context) error {
	w.log.Info("Starting relay worker", "poll_interval", w.pollInterval)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle handles whatever the peers have pending right now, then the links that dropped.
func (w *RelayWorker) cycle(ctx context.Context) {
	for address, payload := range w.transport.Drain() {
		var evt chat.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			w.log.Warn("Discarding undecodable peer payload", "peer", address, "error", err, "size", len(payload))
			continue
		}
		// Self-subscription echo
		if evt.Origin != "" && evt.Origin == w.instanceID {
			continue
		}
		w.track(ctx, address, evt.Origin)
		if err := w.router.Relay(ctx, evt); err != nil {
			w.log.Warn("Discarding peer event", "kind", evt.Kind, "message_id", evt.MessageID, "error", err)
		}
	}
	for address := range w.transport.Lost() {
		origin, ok := w.origins[address]
		if !ok {
			continue
		}
		delete(w.origins, address)
		w.forget(ctx, address, origin)
	}
}

// track remembers which instance speaks on a link. A peer restarted under a new
// id leaves its previous roster behind, so that one is forgotten.
func (w *RelayWorker) track(ctx context.Context, address, origin string) {
	if origin == "" {
		return
	}
	previous, ok := w.origins[address]
	if ok && previous == origin {
		return
	}
	w.origins[address] = origin
	if ok {
		w.forget(ctx, address, previous)
	}
}

func (w *RelayWorker) forget(ctx context.Context, address, origin string) {
	w.log.Info("Forgetting peer roster", "peer", address, "origin", origin)
	if err := w.router.ForgetPeer(ctx, origin); err != nil {
		w.log.Warn("Failed to forget peer roster", "peer", address, "origin", origin, "error", err)
	}
}
