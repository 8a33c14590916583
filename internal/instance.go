package internal

import (
	"chat-relay/infrastructure/api"
	"chat-relay/infrastructure/peer"
	"chat-relay/infrastructure/websocket"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http"
)

// Instance is one fully wired relay process: chat state, peer links, workers and HTTP surface.
type Instance struct {
	ID           string
	log          *slog.Logger
	registry     *runtime.Registry
	transport    *peer.Transport
	hub          *websocket.Hub
	chatService  *services.ChatService
	orchestrator *runtime.Orchestrator
	handler      http.Handler
}

func NewInstance(log *slog.Logger, config Config, instanceID string) (*Instance, error) {
	peers, err := config.Peers()
	if err != nil {
		return nil, err
	}

	registry := runtime.NewRegistry(config.HistoryLimit)
	transport := peer.NewTransport(log, config.PeerOptions())
	hub := websocket.NewHub(log)
	chatService := services.NewChatService(log, registry, hub, transport, instanceID, services.Limits{
		HistoryLimit:     config.HistoryLimit,
		MaxMessageLength: config.MaxMessageLength,
		MaxVoiceBytes:    config.MaxVoiceBytes,
	})

	i := &Instance{
		ID:          instanceID,
		log:         log,
		registry:    registry,
		transport:   transport,
		hub:         hub,
		chatService: chatService,
	}

	sup := workers.NewSupervisor(log, config.RestartInterval)
	i.orchestrator = runtime.NewOrchestrator(log, sup, transport, peers)
	i.orchestrator.Add(
		workers.NewRelayWorker(log, transport, chatService, instanceID, config.PollInterval),
		workers.NewHeartbeatWorker(log, instanceID, config.HeartbeatInterval,
			workers.Probe{Name: "registry", Read: func() any { return registry.Stats() }},
			workers.Probe{Name: "connections", Read: func() any { return hub.Count() }},
			workers.Probe{Name: "published", Read: func() any { return transport.Published() }},
			workers.Probe{Name: "peers", Read: func() any { return transport.States() }},
		),
	)

	// Base64 inflates voice payloads, leave room for the frame envelope too.
	maxFrameSize := int64(config.MaxVoiceBytes)*2 + 1024
	gateway := websocket.NewGateway(log, hub, chatService, config.ConnectionBufferSize, maxFrameSize)
	i.handler = api.NewHandler(log, chatService, gateway, i.Stats, config.HistoryLimit, config.StaticDir)
	return i, nil
}

// Start binds the publish endpoint and starts the peer links and workers.
func (i *Instance) Start(ctx context.Context) error {
	return i.orchestrator.Start(ctx)
}

// Stop closes the publisher, then the subscribers, then the workers.
func (i *Instance) Stop() {
	i.orchestrator.Stop()
}

func (i *Instance) Handler() http.Handler {
	return i.handler
}

func (i *Instance) Registry() *runtime.Registry {
	return i.registry
}

func (i *Instance) Transport() *peer.Transport {
	return i.transport
}

func (i *Instance) Stats() map[string]any {
	stats := i.registry.Stats()
	return map[string]any{
		"instance_id":  i.ID,
		"sessions":     stats.Sessions,
		"history":      stats.History,
		"peer_rosters": stats.PeerRosters,
		"connections":  i.hub.Count(),
		"published":    i.transport.Published(),
		"peers":        i.transport.States(),
	}
}
