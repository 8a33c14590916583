package peer

import (
	"chat-relay/errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Publisher is the fan-out side of the transport.
// Every Subscribe stream gets its own bounded queue; Publish never waits on a slow peer.
type Publisher struct {
	log         *slog.Logger
	bufferSize  int
	server      *grpc.Server
	listener    net.Listener
	mu          sync.RWMutex
	subscribers map[uint64]chan []byte
	nextID      uint64
	published   atomic.Uint64
	dropped     atomic.Uint64
}

func NewPublisher(log *slog.Logger, bufferSize int) *Publisher {
	p := &Publisher{
		log:         log,
		bufferSize:  bufferSize,
		subscribers: make(map[uint64]chan []byte),
	}
	p.server = grpc.NewServer()
	p.server.RegisterService(&relayServiceDesc, p)
	return p
}

// Listen binds addr and starts serving in the background.
func (p *Publisher) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrPublisherBind, addr, err)
	}
	p.listener = lis
	go func() {
		if err := p.server.Serve(lis); err != nil {
			p.log.Error("Publisher stopped serving", "addr", addr, "error", err)
		}
	}()
	p.log.Info("Publisher bound", "addr", lis.Addr().String())
	return nil
}

// Addr is the bound address, nil before Listen.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Publish hands payload to every subscriber queue that has room.
func (p *Publisher) Publish(payload []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.published.Add(1)
	if len(p.subscribers) == 0 {
		p.log.Debug("No subscriber, payload dropped")
		return
	}
	for id, queue := range p.subscribers {
		select {
		case queue <- payload:
		default:
			p.dropped.Add(1)
			p.log.Debug("Subscriber queue full, payload dropped", "subscriber", id)
		}
	}
}

// Subscribe streams every published payload to one remote peer until it goes away.
// There is no filter: peers receive everything.
func (p *Publisher) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, queue := p.attach()
	defer p.detach(id)

	p.log.Info("Peer subscribed", "subscriber", id)
	for {
		select {
		case <-stream.Context().Done():
			p.log.Info("Peer unsubscribed", "subscriber", id)
			return nil
		case payload := <-queue:
			if err := stream.SendMsg(wrapperspb.Bytes(payload)); err != nil {
				p.log.Warn("Failed to push event to peer", "subscriber", id, "error", err)
				return err
			}
		}
	}
}

func (p *Publisher) attach() (uint64, chan []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	queue := make(chan []byte, p.bufferSize)
	p.subscribers[p.nextID] = queue
	return p.nextID, queue
}

func (p *Publisher) detach(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, id)
}

// Subscribers is the number of peers currently attached.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops serving and cuts every subscriber stream.
func (p *Publisher) Close() {
	p.server.Stop()
}
