package services

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/runtime"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const instanceID = "instance-a"

// captured records what the mocks received.
type captured struct {
	mu        sync.Mutex
	broadcast []chat.Outbound
	direct    map[string][]chat.Outbound
	published [][]byte
}

func (c *captured) byEvent(name string) []chat.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Filter(c.broadcast, func(o chat.Outbound, _ int) bool { return o.Event == name })
}

func (c *captured) publishedEvents(t *testing.T) []chat.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Map(c.published, func(b []byte, _ int) chat.Event {
		var evt chat.Event
		require.NoError(t, json.Unmarshal(b, &evt))
		return evt
	})
}

func newTestService(t *testing.T) (*ChatService, *runtime.Registry, *captured) {
	ctrl := gomock.NewController(t)
	broadcaster := mocks.NewMockBroadcaster(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)
	c := &captured{direct: make(map[string][]chat.Outbound)}

	broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, out chat.Outbound) {
			c.mu.Lock()
			c.broadcast = append(c.broadcast, out)
			c.mu.Unlock()
		}).AnyTimes()
	broadcaster.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sid string, out chat.Outbound) error {
			c.mu.Lock()
			c.direct[sid] = append(c.direct[sid], out)
			c.mu.Unlock()
			return nil
		}).AnyTimes()
	publisher.EXPECT().Publish(gomock.Any()).
		Do(func(payload []byte) {
			c.mu.Lock()
			c.published = append(c.published, payload)
			c.mu.Unlock()
		}).AnyTimes()

	registry := runtime.NewRegistry(runtime.DefaultHistoryLimit)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	svc := NewChatService(log, registry, broadcaster, publisher, instanceID, Limits{
		HistoryLimit:     runtime.DefaultHistoryLimit,
		MaxMessageLength: 16,
		MaxVoiceBytes:    32,
	})
	return svc, registry, c
}

func TestChatService_Scenario_Alice_Then_Bob(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	alice, bob := uuid.NewString(), uuid.NewString()

	// Given alice joins
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: alice, Username: "alice"}))
	req.Equal([]string{"alice"}, registry.CurrentRoster())

	// When alice says hi
	req.NoError(svc.PostMessage(ctx, chat.PostMessageCommand{SessionID: alice, Text: "hi"}))

	// Then the last history entry is her message
	history := registry.RecentHistory(runtime.DefaultHistoryLimit)
	messages := lo.Filter(history, func(e chat.Event, _ int) bool { return e.Kind == chat.KindMessage })
	req.Len(messages, 1)
	last := history[len(history)-1]
	req.Equal(chat.KindMessage, last.Kind)
	req.Equal("alice", last.Username)
	req.Equal("hi", last.Body)
	req.Equal(instanceID, last.Origin)

	// When bob joins
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: bob, Username: "bob"}))

	// Then the roster has both, in join order
	req.Equal([]string{"alice", "bob"}, registry.CurrentRoster())

	// And bob's history snapshot contains the prior message
	req.Len(c.direct[bob], 1)
	snapshot := c.direct[bob][0]
	req.Equal(chat.EventChatHistory, snapshot.Event)
	bobHistory := snapshot.Data.(chat.HistoryPayload).History
	bobMessages := lo.Filter(bobHistory, func(e chat.Event, _ int) bool { return e.Kind == chat.KindMessage })
	req.Len(bobMessages, 1)
	req.Equal("hi", bobMessages[0].Body)

	// And the last roster broadcast lists both users
	rosters := c.byEvent(chat.EventUserList)
	req.Equal([]string{"alice", "bob"}, rosters[len(rosters)-1].Data.(chat.UserListPayload).Users)

	// And every event was published once to peers
	kinds := lo.Map(c.publishedEvents(t), func(e chat.Event, _ int) chat.Kind { return e.Kind })
	req.Equal([]chat.Kind{chat.KindSystemJoin, chat.KindMessage, chat.KindSystemJoin}, kinds)
}

func TestChatService_Join_History_Only_To_Joiner(t *testing.T) {
	req := require.New(t)
	svc, _, c := newTestService(t)
	sid := uuid.NewString()

	req.NoError(svc.Join(context.Background(), chat.JoinCommand{SessionID: sid, Username: "alice"}))

	// Then history was never broadcast
	req.Empty(c.byEvent(chat.EventChatHistory))
	req.Len(c.direct, 1)
	req.Len(c.direct[sid], 1)

	// And the join notice carries the roster snapshot
	joins := c.byEvent(chat.EventChatMessage)
	req.Len(joins, 1)
	evt := joins[0].Data.(chat.Event)
	req.Equal(chat.KindSystemJoin, evt.Kind)
	req.Equal([]string{"alice"}, evt.RosterSnapshot)
}

func TestChatService_Disconnect_Unknown_Session(t *testing.T) {
	req := require.New(t)
	svc, registry, c := newTestService(t)
	alice := uuid.NewString()
	req.NoError(svc.Join(context.Background(), chat.JoinCommand{SessionID: alice, Username: "alice"}))
	before := registry.RecentHistory(runtime.DefaultHistoryLimit)
	broadcasts := len(c.broadcast)

	// When a session that never joined disconnects
	err := svc.Disconnect(context.Background(), chat.DisconnectCommand{SessionID: uuid.NewString()})

	// Then nothing changed and no error surfaced
	req.NoError(err)
	req.Equal([]string{"alice"}, registry.CurrentRoster())
	req.Equal(before, registry.RecentHistory(runtime.DefaultHistoryLimit))
	req.Len(c.broadcast, broadcasts)
	req.Len(c.published, 1)
}

func TestChatService_Disconnect_Known_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: alice, Username: "alice"}))
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: bob, Username: "bob"}))

	// When alice disconnects twice
	req.NoError(svc.Disconnect(ctx, chat.DisconnectCommand{SessionID: alice}))
	req.NoError(svc.Disconnect(ctx, chat.DisconnectCommand{SessionID: alice}))

	// Then one leave notice was recorded, broadcast and published
	req.Equal([]string{"bob"}, registry.CurrentRoster())
	history := registry.RecentHistory(runtime.DefaultHistoryLimit)
	last := history[len(history)-1]
	req.Equal(chat.KindSystemLeave, last.Kind)
	req.Equal("alice left the chat", last.Body)
	req.Equal([]string{"bob"}, last.RosterSnapshot)

	leaves := lo.Filter(c.publishedEvents(t), func(e chat.Event, _ int) bool { return e.Kind == chat.KindSystemLeave })
	req.Len(leaves, 1)
	rosters := c.byEvent(chat.EventUserList)
	req.Equal([]string{"bob"}, rosters[len(rosters)-1].Data.(chat.UserListPayload).Users)
}

func TestChatService_PostMessage_Unknown_Session_Is_Anonymous(t *testing.T) {
	req := require.New(t)
	svc, registry, _ := newTestService(t)

	req.NoError(svc.PostMessage(context.Background(), chat.PostMessageCommand{SessionID: uuid.NewString(), Text: "hello"}))

	history := registry.RecentHistory(1)
	req.Len(history, 1)
	req.Equal(chat.DefaultUsername, history[0].Username)
}

func TestChatService_PostMessage_Rejects_Invalid(t *testing.T) {
	req := require.New(t)
	svc, registry, c := newTestService(t)
	sid := uuid.NewString()

	errEmpty := svc.PostMessage(context.Background(), chat.PostMessageCommand{SessionID: sid})
	errLong := svc.PostMessage(context.Background(), chat.PostMessageCommand{SessionID: sid, Text: strings.Repeat("x", 17)})

	req.ErrorIs(errEmpty, errors.ErrInvalidEvent)
	req.ErrorIs(errLong, errors.ErrInvalidEvent)
	req.Empty(registry.RecentHistory(runtime.DefaultHistoryLimit))
	req.Empty(c.published)
	req.Empty(c.broadcast)
}

func TestChatService_PostVoice_Not_In_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	sid := uuid.NewString()
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: sid, Username: "alice"}))
	historyLen := len(registry.RecentHistory(runtime.DefaultHistoryLimit))

	// When alice sends a voice payload
	req.NoError(svc.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sid, Payload: "data:audio/webm;base64,AAAA"}))

	// Then it is broadcast and published but not stored
	req.Len(registry.RecentHistory(runtime.DefaultHistoryLimit), historyLen)
	voices := c.byEvent(chat.EventVoiceMessage)
	req.Len(voices, 1)
	evt := voices[0].Data.(chat.Event)
	req.Equal(chat.KindVoice, evt.Kind)
	req.Equal("alice", evt.Username)
	published := c.publishedEvents(t)
	req.Equal(chat.KindVoice, published[len(published)-1].Kind)

	// And oversized payloads are refused
	err := svc.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sid, Payload: strings.Repeat("A", 33)})
	req.ErrorIs(err, errors.ErrInvalidEvent)
}

func TestChatService_Message_Ids_Are_Unique(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _, c := newTestService(t)
	sessions := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	var wg sync.WaitGroup
	for _, sid := range sessions {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = svc.PostMessage(ctx, chat.PostMessageCommand{SessionID: sid, Text: "x"})
				_ = svc.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sid, Payload: "y"})
			}
		}(sid)
	}
	wg.Wait()

	ids := lo.Map(c.publishedEvents(t), func(e chat.Event, _ int) string { return e.MessageID })
	req.Len(ids, 600)
	req.Len(lo.Uniq(ids), 600)
}

func TestChatService_Relay_Never_Publishes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	now := time.Now()

	message := chat.NewMessage("remote-sid", "bob", "from b", now)
	message.Origin = "instance-b"
	voice := chat.NewVoice("remote-sid", "bob", "AAAA", now)
	voice.Origin = "instance-b"
	join := chat.NewJoin("remote-sid", "bob", []string{"bob"}, now)
	join.Origin = "instance-b"

	// When events from a peer are relayed
	req.NoError(svc.Relay(ctx, join))
	req.NoError(svc.Relay(ctx, message))
	req.NoError(svc.Relay(ctx, voice))

	// Then nothing is published back
	req.Empty(c.published)

	// And text and system events are in history, voice is not
	history := registry.RecentHistory(runtime.DefaultHistoryLimit)
	req.Equal([]chat.Kind{chat.KindSystemJoin, chat.KindMessage},
		lo.Map(history, func(e chat.Event, _ int) chat.Kind { return e.Kind }))

	// And every event reached local sessions
	req.Len(c.byEvent(chat.EventChatMessage), 2)
	req.Len(c.byEvent(chat.EventVoiceMessage), 1)

	// And the peer roster is merged into the unified roster only
	req.Empty(registry.CurrentRoster())
	req.Equal([]string{"bob"}, registry.UnifiedRoster())
	rosters := c.byEvent(chat.EventUserList)
	req.Len(rosters, 1)
	req.Equal([]string{"bob"}, rosters[0].Data.(chat.UserListPayload).Users)
}

func TestChatService_Relay_Rejects_Invalid_Event(t *testing.T) {
	req := require.New(t)
	svc, registry, c := newTestService(t)

	err := svc.Relay(context.Background(), chat.Event{Kind: "shout", Body: "x"})

	req.ErrorIs(err, errors.ErrInvalidEvent)
	req.Empty(registry.RecentHistory(runtime.DefaultHistoryLimit))
	req.Empty(c.broadcast)
}

func TestChatService_Relay_Last_Peer_Leave_Clears_Its_Roster(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	now := time.Now()

	join := chat.NewJoin("remote-sid", "bob", []string{"bob"}, now)
	join.Origin = "instance-b"
	req.NoError(svc.Relay(ctx, join))

	// Given the leave notice as it arrives from the wire, empty roster omitted
	raw, err := json.Marshal(chat.NewLeave("remote-sid", "bob", nil, now))
	req.NoError(err)
	var leave chat.Event
	req.NoError(json.Unmarshal(raw, &leave))
	leave.Origin = "instance-b"
	req.Nil(leave.RosterSnapshot)

	// When it is relayed
	req.NoError(svc.Relay(ctx, leave))

	// Then bob is gone from the unified roster
	req.Empty(registry.UnifiedRoster())
	rosters := c.byEvent(chat.EventUserList)
	req.Len(rosters, 2)
	req.Empty(rosters[1].Data.(chat.UserListPayload).Users)
}

func TestChatService_PostVoice_Limit_Counts_Bytes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _, c := newTestService(t)
	sid := uuid.NewString()
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: sid, Username: "alice"}))

	// Given a payload of 20 characters but 40 bytes
	payload := strings.Repeat("é", 20)
	req.Len(payload, 40)

	// When it is posted against a 32 byte limit
	err := svc.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sid, Payload: payload})

	// Then it is refused and nothing is broadcast
	req.ErrorIs(err, errors.ErrInvalidEvent)
	req.Empty(c.byEvent(chat.EventVoiceMessage))

	// And a payload of exactly 32 bytes still goes through
	req.NoError(svc.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sid, Payload: strings.Repeat("é", 16)}))
	req.Len(c.byEvent(chat.EventVoiceMessage), 1)
}

func TestChatService_ForgetPeer_Drops_Its_Roster(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, registry, c := newTestService(t)
	now := time.Now()

	// Given alice local and two peers announcing bob and carol
	req.NoError(svc.Join(ctx, chat.JoinCommand{SessionID: uuid.NewString(), Username: "alice"}))
	bob := chat.NewJoin("remote-b", "bob", []string{"bob"}, now)
	bob.Origin = "instance-b"
	req.NoError(svc.Relay(ctx, bob))
	carol := chat.NewJoin("remote-c", "carol", []string{"carol"}, now)
	carol.Origin = "instance-c"
	req.NoError(svc.Relay(ctx, carol))
	req.Equal([]string{"alice", "bob", "carol"}, registry.UnifiedRoster())
	publishedBefore := len(c.publishedEvents(t))
	historyBefore := len(registry.RecentHistory(runtime.DefaultHistoryLimit))

	// When the link to instance-b is gone
	req.NoError(svc.ForgetPeer(ctx, "instance-b"))

	// Then bob leaves the roster everywhere locally
	req.Equal([]string{"alice", "carol"}, registry.UnifiedRoster())
	rosters := c.byEvent(chat.EventUserList)
	req.Equal([]string{"alice", "carol"}, rosters[len(rosters)-1].Data.(chat.UserListPayload).Users)

	// And nothing is published nor added to history
	req.Len(c.publishedEvents(t), publishedBefore)
	req.Len(registry.RecentHistory(runtime.DefaultHistoryLimit), historyBefore)

	// And an empty origin is refused
	req.ErrorIs(svc.ForgetPeer(ctx, ""), errors.ErrInvalidEvent)
}
