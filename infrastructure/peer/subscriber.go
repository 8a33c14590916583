package peer

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	GivenUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case GivenUp:
		return "given_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of one peer link.
type Status struct {
	Address  string
	State    State
	Attempts int
}

// minStableStream is how long a silent stream must last to count as a healthy session.
const minStableStream = 30 * time.Second

type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	DialTimeout time.Duration
}

type inbound struct {
	address string
	payload []byte
}

// subscriber owns the link to one peer publisher.
// Received payloads land in inbox; the relay worker drains it.
// onLost is called each time an established stream ends.
type subscriber struct {
	log      *slog.Logger
	peer     Peer
	policy   RetryPolicy
	inbox    chan inbound
	onLost   func(address string)
	mu       sync.RWMutex
	state    State
	attempts int
}

func newSubscriber(log *slog.Logger, peer Peer, policy RetryPolicy, bufferSize int,
	onLost func(address string)) *subscriber {
	return &subscriber{
		log:    log.With("peer", peer.Address()),
		peer:   peer,
		policy: policy,
		inbox:  make(chan inbound, bufferSize),
		onLost: onLost,
	}
}

func (s *subscriber) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Address: s.peer.Address(), State: s.state, Attempts: s.attempts}
}

func (s *subscriber) setState(state State, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.attempts = attempts
}

// run keeps the link alive until ctx ends or the retry budget is spent.
// Every failed attempt and every stream that ends counts toward the budget, with the
// same delay in between. Only a stream that carried events or stayed up for
// minStableStream earns a fresh budget.
func (s *subscriber) run(ctx context.Context) {
	defer func() {
		if ctx.Err() != nil {
			s.setState(Disconnected, 0)
		}
	}()

	attempt := 0
	for {
		attempt++
		s.setState(Connecting, attempt)
		conn, stream, err := s.open(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.log.Warn("Peer connection attempt failed",
				"attempt", attempt, "max_attempts", s.policy.MaxAttempts, "error", err)
		} else {
			s.setState(Connected, attempt)
			s.log.Info("Connected to peer", "attempt", attempt)
			connectedAt := time.Now()
			received, err := s.receive(ctx, stream)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.setState(Disconnected, attempt)
			s.onLost(s.peer.Address())
			if received > 0 || time.Since(connectedAt) >= minStableStream {
				attempt = 0
			}
			s.log.Warn("Peer stream lost", "attempt", attempt, "received", received, "error", err)
		}

		if attempt >= s.policy.MaxAttempts {
			s.setState(GivenUp, attempt)
			s.log.Warn("Giving up on peer", "attempts", attempt, "error", errors.ErrPeerUnreachable)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.policy.Delay):
		}
	}
}

// open dials the peer, waits for READY and opens the Subscribe stream.
func (s *subscriber) open(ctx context.Context) (*grpc.ClientConn, grpc.ClientStream, error) {
	conn, err := dialWithRetry(ctx, s.peer.Address(), s.policy.DialTimeout)
	if err != nil {
		return nil, nil, err
	}
	stream, err := conn.NewStream(ctx, &relayServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := stream.CloseSend(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, stream, nil
}

// receive forwards the stream into the inbox and reports how many events it carried.
func (s *subscriber) receive(ctx context.Context, stream grpc.ClientStream) (int, error) {
	received := 0
	for {
		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			return received, err
		}
		received++
		select {
		case s.inbox <- inbound{address: s.peer.Address(), payload: msg.GetValue()}:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

// tryRecv is one non-blocking read of the inbox.
func (s *subscriber) tryRecv() (inbound, bool) {
	select {
	case in := <-s.inbox:
		return in, true
	default:
		return inbound{}, false
	}
}

// dialWithRetry creates the client and waits, at most timeout, for the channel to be READY.
// grpc.NewClient never blocks, so readiness is checked by hand.
func dialWithRetry(ctx context.Context, addr string, timeout time.Duration) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   timeout,
			},
			MinConnectTimeout: timeout,
		}),
	)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(dialCtx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s not ready after %s", errors.ErrPeerUnreachable, addr, timeout)
		}
	}
}
