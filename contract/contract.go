//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain/chat"
	"context"
	"iter"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives the named events destined to one connected session.
type EventSink interface {
	Consume(ctx context.Context, out chat.Outbound) error
}

// Broadcaster pushes named events to local sessions only.
type Broadcaster interface {
	SendTo(ctx context.Context, sessionID string, out chat.Outbound) error
	Broadcast(ctx context.Context, out chat.Outbound)
}

// Publisher relays an encoded event to peer instances, best effort.
type Publisher interface {
	Publish(payload []byte)
}

// PeerTransport is the publish side plus the inbound subscribe channels.
// Drain yields pending payloads keyed by the peer address they came from.
// Lost yields the peer addresses whose stream ended since the last call.
type PeerTransport interface {
	Publisher
	Drain() iter.Seq2[string, []byte]
	Lost() iter.Seq[string]
	Close() error
}

type IEventRouter interface {
	Join(ctx context.Context, cmd chat.JoinCommand) error
	PostMessage(ctx context.Context, cmd chat.PostMessageCommand) error
	PostVoice(ctx context.Context, cmd chat.PostVoiceCommand) error
	Disconnect(ctx context.Context, cmd chat.DisconnectCommand) error
	Relay(ctx context.Context, evt chat.Event) error
	ForgetPeer(ctx context.Context, origin string) error
	History(n int) []chat.Event
}
