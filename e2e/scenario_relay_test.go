package e2e

import (
	"chat-relay/domain/chat"
	"slices"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type testRelaySuite struct {
	BaseRelaySuite
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, &testRelaySuite{})
}

func isChatMessage(body string) func(Frame) bool {
	return func(f Frame) bool {
		return f.Event == chat.EventChatMessage && f.ChatEvent().Body == body
	}
}

func (s *testRelaySuite) TestTwoLinkedInstances() {
	portA, portB := s.FreePort(), s.FreePort()
	a := s.StartNode("instance-a", portA, portB)
	b := s.StartNode("instance-b", portB, portA)

	// --- STEP 0: PEER LINKS ---
	s.Run("Step 0: Both instances subscribe to each other", func() {
		s.Step("Waiting for both subscriptions")
		s.Eventually(func() bool {
			return a.Instance.Transport().Subscribers() == 1 && b.Instance.Transport().Subscribers() == 1
		}, s.Config.Timeout, 20*time.Millisecond)
	})

	alice := s.Connect(a, "alice")
	bob := s.Connect(b, "bob")

	// --- STEP 1: JOIN ON A ---
	s.Run("Step 1: Alice joins on A and gets history then roster", func() {
		alice.Send(chat.EventJoin, map[string]string{"username": "alice"})
		alice.Await("chat_history", func(f Frame) bool { return f.Event == chat.EventChatHistory })
		alice.Await("own join notice", isChatMessage("alice joined the chat"))
		users := alice.Await("user_list", func(f Frame) bool { return f.Event == chat.EventUserList }).Users()
		s.Equal([]string{"alice"}, users)
	})

	// --- STEP 2: JOIN ON B SEES THE UNIFIED ROSTER ---
	s.Run("Step 2: Bob joins on B and sees Alice in the unified roster", func() {
		s.Eventually(func() bool {
			return slices.ContainsFunc(s.History(b), func(e chat.Event) bool {
				return e.Body == "alice joined the chat"
			})
		}, s.Config.Timeout, 20*time.Millisecond)

		bob.Send(chat.EventJoin, map[string]string{"username": "bob"})
		history := bob.Await("chat_history", func(f Frame) bool { return f.Event == chat.EventChatHistory })
		s.Contains(string(history.Data), "alice joined the chat")
		bob.Await("user_list with both users", func(f Frame) bool {
			return f.Event == chat.EventUserList && lo.Every(f.Users(), []string{"alice", "bob"})
		})
	})

	// --- STEP 3: MESSAGE FROM A REACHES B ---
	s.Run("Step 3: A message posted on A is broadcast on B", func() {
		alice.Send(chat.EventChatMessage, map[string]string{"message": "hello from A"})
		evt := bob.Await("alice's message", isChatMessage("hello from A")).ChatEvent()
		s.Equal("alice", evt.Username)
		s.Equal(chat.KindMessage, evt.Kind)
		s.Equal(a.Instance.ID, evt.Origin)

		s.Eventually(func() bool {
			return lo.ContainsBy(s.History(b), func(e chat.Event) bool { return e.Body == "hello from A" })
		}, s.Config.Timeout, 20*time.Millisecond)
	})

	// --- STEP 4: VOICE IS RELAYED BUT NOT KEPT ---
	s.Run("Step 4: Voice from B reaches A and stays out of history", func() {
		bob.Send(chat.EventVoiceMessage, map[string]string{"audio_data": "data:audio/webm;base64,AAAA"})
		evt := alice.Await("bob's voice", func(f Frame) bool { return f.Event == chat.EventVoiceMessage }).ChatEvent()
		s.Equal("bob", evt.Username)
		s.Equal("data:audio/webm;base64,AAAA", evt.Body)

		s.False(lo.ContainsBy(s.History(a), func(e chat.Event) bool { return e.Kind == chat.KindVoice }))
		s.False(lo.ContainsBy(s.History(b), func(e chat.Event) bool { return e.Kind == chat.KindVoice }))
	})

	// --- STEP 5: NO AMPLIFICATION ---
	s.Run("Step 5: Relayed events are never published again", func() {
		// A published alice's join and message, B bob's join and voice.
		s.Never(func() bool {
			return a.Instance.Transport().Published() != 2 || b.Instance.Transport().Published() != 2
		}, 300*time.Millisecond, 20*time.Millisecond)
	})

	// --- STEP 6: LEAVE ---
	s.Run("Step 6: Alice leaving is announced on B", func() {
		alice.Close()
		bob.Await("alice's leave notice", isChatMessage("alice left the chat"))
		users := bob.Await("user_list without alice", func(f Frame) bool { return f.Event == chat.EventUserList }).Users()
		s.Equal([]string{"bob"}, users)
	})
}

func (s *testRelaySuite) TestUnreachablePeerDoesNotBlockLocalChat() {
	// Given an instance whose only peer never comes up
	node := s.StartNode("lonely", s.FreePort(), s.FreePort())
	carol := s.Connect(node, "carol")

	// Then local chat works while the link retries
	carol.Send(chat.EventJoin, map[string]string{"username": "carol"})
	carol.Await("chat_history", func(f Frame) bool { return f.Event == chat.EventChatHistory })
	carol.Send(chat.EventChatMessage, map[string]string{"message": "anyone?"})
	carol.Await("own message", isChatMessage("anyone?"))

	s.Len(s.History(node), 2)
}

func (s *testRelaySuite) TestStoppedPeerLeavesUnifiedRoster() {
	portA, portB := s.FreePort(), s.FreePort()
	a := s.StartNode("instance-a", portA, portB)
	b := s.StartNode("instance-b", portB, portA)
	s.Eventually(func() bool {
		return a.Instance.Transport().Subscribers() == 1 && b.Instance.Transport().Subscribers() == 1
	}, s.Config.Timeout, 20*time.Millisecond)

	// Given alice on A and bob on B, each seeing the other
	alice := s.Connect(a, "alice")
	alice.Send(chat.EventJoin, map[string]string{"username": "alice"})
	alice.Await("chat_history", func(f Frame) bool { return f.Event == chat.EventChatHistory })
	s.Eventually(func() bool {
		return slices.Contains(b.Instance.Registry().UnifiedRoster(), "alice")
	}, s.Config.Timeout, 20*time.Millisecond)
	bob := s.Connect(b, "bob")
	bob.Send(chat.EventJoin, map[string]string{"username": "bob"})
	bob.Await("roster with alice", func(f Frame) bool {
		return f.Event == chat.EventUserList && slices.Contains(f.Users(), "alice")
	})

	// When A stops without alice ever leaving
	s.Step("Stopping instance-a")
	a.Instance.Stop()

	// Then B drops alice from its roster and tells bob
	users := bob.Await("roster without alice", func(f Frame) bool {
		return f.Event == chat.EventUserList && !slices.Contains(f.Users(), "alice")
	}).Users()
	s.Equal([]string{"bob"}, users)
	s.Eventually(func() bool {
		return !slices.Contains(b.Instance.Registry().UnifiedRoster(), "alice")
	}, s.Config.Timeout, 20*time.Millisecond)
}
