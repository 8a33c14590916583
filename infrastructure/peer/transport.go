package peer

import (
	"chat-relay/contract"
	"context"
	"iter"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/lo"
)

var _ contract.PeerTransport = (*Transport)(nil)

type Options struct {
	// PublishAddr is the host:port the publisher binds.
	PublishAddr string
	// SubscriberBufferSize bounds both the per-subscriber publish queue and each peer inbox.
	SubscriberBufferSize int
	Retry                RetryPolicy
}

// Transport links this instance to its peers: one publisher, one subscriber per peer.
type Transport struct {
	log         *slog.Logger
	options     Options
	publisher   *Publisher
	mu          sync.RWMutex
	subscribers []*subscriber
	cancels     []context.CancelFunc
	lost        []string
	closed      bool
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func NewTransport(log *slog.Logger, options Options) *Transport {
	return &Transport{
		log:       log,
		options:   options,
		publisher: NewPublisher(log, options.SubscriberBufferSize),
	}
}

// Bind opens the publish endpoint. Failing here is fatal for the process.
func (t *Transport) Bind() error {
	return t.publisher.Listen(t.options.PublishAddr)
}

// PublishAddr is the address actually bound, useful when the port was 0.
func (t *Transport) PublishAddr() net.Addr {
	return t.publisher.Addr()
}

// Connect starts one independent link per peer and returns immediately.
// Outcomes are only logged and reported through States. Calling it again adds
// more links; Close stops all of them.
func (t *Transport) Connect(ctx context.Context, peers []Peer) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.log.Warn("Connect called on a closed peer transport")
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	t.cancels = append(t.cancels, cancel)
	for _, p := range peers {
		s := newSubscriber(t.log, p, t.options.Retry, t.options.SubscriberBufferSize, t.markLost)
		t.subscribers = append(t.subscribers, s)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			s.run(subCtx)
		}()
	}
	t.mu.Unlock()

	t.log.Info("Connecting to peers", "peers", lo.Map(peers, func(p Peer, _ int) string {
		return p.Address()
	}))
}

func (t *Transport) Publish(payload []byte) {
	t.publisher.Publish(payload)
}

// Drain yields at most one pending payload per peer, keyed by the peer address
// it arrived from. It never blocks.
func (t *Transport) Drain() iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		t.mu.RLock()
		subscribers := append([]*subscriber(nil), t.subscribers...)
		t.mu.RUnlock()

		for _, s := range subscribers {
			in, ok := s.tryRecv()
			if !ok {
				continue
			}
			if !yield(in.address, in.payload) {
				return
			}
		}
	}
}

// Lost yields, once each, the addresses whose established stream ended since the last call.
func (t *Transport) Lost() iter.Seq[string] {
	t.mu.Lock()
	lost := t.lost
	t.lost = nil
	t.mu.Unlock()
	return func(yield func(string) bool) {
		for _, address := range lost {
			if !yield(address) {
				return
			}
		}
	}
}

func (t *Transport) markLost(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lost = append(t.lost, address)
}

func (t *Transport) States() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Map(t.subscribers, func(s *subscriber, _ int) Status {
		return s.status()
	})
}

// Subscribers is the number of peers currently streaming from our publisher.
func (t *Transport) Subscribers() int {
	return t.publisher.Subscribers()
}

// Published is the number of events handed to the publisher since start.
func (t *Transport) Published() uint64 {
	return t.publisher.Published()
}

// Close stops the publisher first, then every subscriber.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.publisher.Close()
		t.mu.Lock()
		t.closed = true
		cancels := t.cancels
		t.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		t.wg.Wait()
		t.log.Info("Peer transport closed")
	})
	return nil
}
