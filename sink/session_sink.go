package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"sync"
)

var _ contract.EventSink = (*SessionSink)(nil)

// SessionSink is the outbound queue of one connected client.
// The gateway's write loop drains Outbound; Consume never blocks the broadcaster.
type SessionSink struct {
	SessionID string
	Outbound  chan chat.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func NewSessionSink(sessionID string, bufferSize int) *SessionSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &SessionSink{
		SessionID: sessionID,
		Outbound:  make(chan chat.Outbound, bufferSize),
		done:      make(chan struct{}),
	}
}

// Consume is called by the hub for every event addressed to this session.
// A full queue drops the event: one slow client must not stall the room.
func (s *SessionSink) Consume(ctx context.Context, out chat.Outbound) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.Outbound <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSessionQueueFull
	}
}

// Close marks the sink as finished. Outbound is left open so that a late
// Consume can never panic on a closed channel.
func (s *SessionSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *SessionSink) Done() <-chan struct{} {
	return s.done
}
