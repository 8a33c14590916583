package runtime

import (
	"chat-relay/domain/chat"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// DefaultHistoryLimit is the number of events kept in memory.
const DefaultHistoryLimit = 50

// RegistryStats is a point-in-time view used by the heartbeat.
type RegistryStats struct {
	Sessions    int
	History     int
	PeerRosters int
}

// Registry is the single owner of the online sessions and of the bounded history.
// Both the client handlers and the relay loop go through it.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]string // session id -> display name
	order       []string          // session ids in join order
	history     *ring[chat.Event]
	peerRosters map[string][]string // origin instance -> last roster snapshot
	peerOrder   []string
}

func NewRegistry(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		sessions:    make(map[string]string),
		history:     newRing[chat.Event](historyLimit),
		peerRosters: make(map[string][]string),
	}
}

// Register binds a display name to a session. Registering an already known session
// only renames it and keeps its roster position.
func (r *Registry) Register(sessionID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		r.order = append(r.order, sessionID)
	}
	r.sessions[sessionID] = chat.DisplayName(name)
}

// Unregister removes a session and returns the name it had.
// Unknown ids are a no-op: the gateway may report the same disconnect twice.
func (r *Registry) Unregister(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(r.sessions, sessionID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == sessionID })
	return name, true
}

func (r *Registry) Lookup(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.sessions[sessionID]
	return name, ok
}

// CurrentRoster projects the local display names in join order.
func (r *Registry) CurrentRoster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localRoster()
}

func (r *Registry) localRoster() []string {
	return lo.Map(r.order, func(id string, _ int) string { return r.sessions[id] })
}

// ApplyPeerRoster replaces the roster announced by another instance.
func (r *Registry) ApplyPeerRoster(origin string, names []string) {
	if origin == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(names) == 0 {
		delete(r.peerRosters, origin)
		r.peerOrder = slices.DeleteFunc(r.peerOrder, func(o string) bool { return o == origin })
		return
	}
	if _, ok := r.peerRosters[origin]; !ok {
		r.peerOrder = append(r.peerOrder, origin)
	}
	r.peerRosters[origin] = slices.Clone(names)
}

// UnifiedRoster is the local roster followed by every peer's last snapshot.
func (r *Registry) UnifiedRoster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := r.localRoster()
	for _, origin := range r.peerOrder {
		roster = append(roster, r.peerRosters[origin]...)
	}
	return roster
}

// AppendHistory records an event, evicting the oldest once the limit is reached.
func (r *Registry) AppendHistory(evt chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.push(evt)
}

// RecentHistory returns up to n events in arrival order, oldest first.
func (r *Registry) RecentHistory(n int) []chat.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.last(n)
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{
		Sessions:    len(r.sessions),
		History:     r.history.len(),
		PeerRosters: len(r.peerRosters),
	}
}
