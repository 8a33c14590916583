package services

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/runtime"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Ensure *ChatService implements contract.IEventRouter at compile time.
var _ contract.IEventRouter = (*ChatService)(nil)

type Limits struct {
	HistoryLimit     int
	MaxMessageLength int
	MaxVoiceBytes    int
}

// ChatService reacts to every client event and to every event relayed by a peer.
// It decides what goes to history, what is broadcast locally and what is published.
// mutate+broadcast runs under one lock so that local broadcast order equals call order.
type ChatService struct {
	mu          sync.Mutex
	log         *slog.Logger
	registry    *runtime.Registry
	broadcaster contract.Broadcaster
	publisher   contract.Publisher
	instanceID  string
	limits      Limits
	validate    *validator.Validate
	now         func() time.Time
}

func NewChatService(log *slog.Logger, registry *runtime.Registry,
	broadcaster contract.Broadcaster, publisher contract.Publisher,
	instanceID string, limits Limits) *ChatService {
	if limits.HistoryLimit <= 0 {
		limits.HistoryLimit = runtime.DefaultHistoryLimit
	}
	return &ChatService{
		log:         log,
		registry:    registry,
		broadcaster: broadcaster,
		publisher:   publisher,
		instanceID:  instanceID,
		limits:      limits,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Join registers the session, hands it the history and announces it everywhere.
// The history snapshot goes to the joiner only.
func (s *ChatService) Join(ctx context.Context, cmd chat.JoinCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: join: %v", errors.ErrInvalidEvent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Register(cmd.SessionID, cmd.Username)
	name, _ := s.registry.Lookup(cmd.SessionID)
	evt := s.stamp(chat.NewJoin(cmd.SessionID, name, s.registry.CurrentRoster(), s.now()))
	s.registry.AppendHistory(evt)

	history := chat.Outbound{
		Event: chat.EventChatHistory,
		Data:  chat.HistoryPayload{History: s.registry.RecentHistory(s.limits.HistoryLimit)},
	}
	if err := s.broadcaster.SendTo(ctx, cmd.SessionID, history); err != nil {
		s.log.Warn("Failed to send history to joining session",
			"session_id", cmd.SessionID, "error", err)
	}
	s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventChatMessage, Data: evt})
	s.broadcastRoster(ctx)
	s.publish(evt)

	s.log.Info("Session joined", "session_id", cmd.SessionID, "username", name)
	return nil
}

// Disconnect is a no-op for sessions that never joined or already left.
func (s *ChatService) Disconnect(ctx context.Context, cmd chat.DisconnectCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: disconnect: %v", errors.ErrInvalidEvent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.registry.Unregister(cmd.SessionID)
	if !ok {
		s.log.Debug("Disconnect for unknown session", "session_id", cmd.SessionID)
		return nil
	}
	evt := s.stamp(chat.NewLeave(cmd.SessionID, name, s.registry.CurrentRoster(), s.now()))
	s.registry.AppendHistory(evt)
	s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventChatMessage, Data: evt})
	s.publish(evt)
	s.broadcastRoster(ctx)

	s.log.Info("Session left", "session_id", cmd.SessionID, "username", name)
	return nil
}

// PostMessage broadcasts locally before handing the event to the peers.
func (s *ChatService) PostMessage(ctx context.Context, cmd chat.PostMessageCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: message: %v", errors.ErrInvalidEvent, err)
	}
	if err := s.checkLength(cmd.Text, s.limits.MaxMessageLength); err != nil {
		return fmt.Errorf("%w: message: %v", errors.ErrInvalidEvent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evt := s.stamp(chat.NewMessage(cmd.SessionID, s.displayName(cmd.SessionID), cmd.Text, s.now()))
	s.registry.AppendHistory(evt)
	s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventChatMessage, Data: evt})
	s.publish(evt)
	return nil
}

// PostVoice is broadcast and published like a message but never enters history.
func (s *ChatService) PostVoice(ctx context.Context, cmd chat.PostVoiceCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: voice: %v", errors.ErrInvalidEvent, err)
	}
	if limit := s.limits.MaxVoiceBytes; limit > 0 && len(cmd.Payload) > limit {
		return fmt.Errorf("%w: voice: payload is %d bytes, limit is %d", errors.ErrInvalidEvent, len(cmd.Payload), limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evt := s.stamp(chat.NewVoice(cmd.SessionID, s.displayName(cmd.SessionID), cmd.Payload, s.now()))
	s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventVoiceMessage, Data: evt})
	s.publish(evt)
	return nil
}

// Relay merges an event received from a peer into local state and local broadcast.
// It never publishes: relayed events stop here.
func (s *ChatService) Relay(ctx context.Context, evt chat.Event) error {
	if err := s.validate.Struct(evt); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Kind {
	case chat.KindSystemJoin, chat.KindSystemLeave:
		// An empty roster is dropped from the wire, it still means nobody is left.
		s.registry.ApplyPeerRoster(evt.Origin, evt.RosterSnapshot)
		s.registry.AppendHistory(evt)
		s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventChatMessage, Data: evt})
		s.broadcastRoster(ctx)
	case chat.KindVoice:
		s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventVoiceMessage, Data: evt})
	default:
		s.registry.AppendHistory(evt)
		s.broadcaster.Broadcast(ctx, chat.Outbound{Event: chat.EventChatMessage, Data: evt})
	}
	return nil
}

// ForgetPeer drops the roster last announced by origin, once its link is gone.
// Unknown origins only rebroadcast the unchanged roster.
func (s *ChatService) ForgetPeer(ctx context.Context, origin string) error {
	if origin == "" {
		return fmt.Errorf("%w: forget peer: empty origin", errors.ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.ApplyPeerRoster(origin, nil)
	s.broadcastRoster(ctx)
	s.log.Info("Peer roster forgotten", "origin", origin)
	return nil
}

func (s *ChatService) History(n int) []chat.Event {
	return s.registry.RecentHistory(n)
}

func (s *ChatService) displayName(sessionID string) string {
	if name, ok := s.registry.Lookup(sessionID); ok {
		return name
	}
	return chat.DefaultUsername
}

func (s *ChatService) stamp(evt chat.Event) chat.Event {
	evt.Origin = s.instanceID
	return evt
}

// checkLength counts characters, not bytes.
func (s *ChatService) checkLength(value string, limit int) error {
	if limit <= 0 {
		return nil
	}
	return s.validate.Var(value, fmt.Sprintf("max=%d", limit))
}

func (s *ChatService) broadcastRoster(ctx context.Context) {
	s.broadcaster.Broadcast(ctx, chat.Outbound{
		Event: chat.EventUserList,
		Data:  chat.UserListPayload{Users: s.registry.UnifiedRoster()},
	})
}

// publish is best effort: the transport drops what it cannot deliver.
func (s *ChatService) publish(evt chat.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("Failed to encode event for peers", "message_id", evt.MessageID, "error", err)
		return
	}
	s.publisher.Publish(payload)
}
