// Package runtime holds the process-level state and lifecycle of a relay instance.
// It owns the registry and wires the peer transport to the supervised workers,
// without containing chat rules.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/infrastructure/peer"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"sync"
)

// Orchestrator binds the publish endpoint, starts the peer links and supervises the workers.
type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor *workers.Supervisor
	transport  *peer.Transport
	peers      []peer.Peer
	workers    []contract.Worker
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewOrchestrator(log *slog.Logger, supervisor *workers.Supervisor,
	transport *peer.Transport, peers []peer.Peer) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		transport:  transport,
		peers:      peers,
	}
}

func (o *Orchestrator) Add(worker ...contract.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workers = append(o.workers, worker...)
}

// Start returns once the publisher is bound. A bind failure is the only error:
// peer links and workers report their trouble through logs.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.transport.Bind(); err != nil {
		return err
	}
	o.transport.Connect(ctx, o.peers)

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.supervisor.Add(o.workers...)
	o.cancel = cancel
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	go func() {
		defer close(done)
		o.supervisor.Run(runCtx)
	}()
	o.log.Info("Relay started", "workers", len(o.workers), "peers", len(o.peers))
	return nil
}

// Stop closes the publisher, then the subscribers, then the workers, and waits for them.
func (o *Orchestrator) Stop() {
	if err := o.transport.Close(); err != nil {
		o.log.Warn("Failed to close peer transport", "error", err)
	}
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.log.Info("Relay stopped")
}
