package store

import (
	"Courier/internal/model"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self = "me"

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(id, conv, sender string, minute int) model.Message {
	return model.Message{
		MessageID:      id,
		ConversationID: conv,
		SenderID:       sender,
		Text:           "text " + id,
		SentAt:         t0.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(messages []model.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.MessageID)
	}
	return out
}

func TestApplySnapshot_UnreadThenIncomingThenActivate(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", UnreadCount: 2}})

	applied := s.ApplyIncomingMessage(msg("10", "c1", "p1", 1), s.IsActive("c1"))
	require.True(t, applied)

	c, ok := s.Conversation(model.ByConversation("c1"))
	require.True(t, ok)
	require.Equal(t, 3, c.UnreadCount)
	require.Equal(t, "text 10", c.LastMessageText)

	require.True(t, s.SetActive(model.ByConversation("c1")))
	c, _ = s.Conversation(model.ByConversation("c1"))
	require.Equal(t, 0, c.UnreadCount)
}

func TestApplySnapshot_PreservesPendingAndLocalUnread(t *testing.T) {
	s := NewConversationStore(self)
	s.EnsurePending(model.Peer{UserID: "p9", Username: "zoe"})
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", UnreadCount: 1}})
	s.ApplyIncomingMessage(msg("1", "c1", "p1", 1), false)

	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", PeerUsername: "prof", LastMessageText: "server", UnreadCount: 7}})

	c, ok := s.Conversation(model.ByConversation("c1"))
	require.True(t, ok)
	require.Equal(t, 2, c.UnreadCount, "local unread survives snapshot")
	require.Equal(t, "prof", c.PeerUsername)
	require.Equal(t, "server", c.LastMessageText)

	p, ok := s.Conversation(model.ByPeer("p9"))
	require.True(t, ok)
	require.True(t, p.IsPending())
	require.Equal(t, 2, s.Len())
}

func TestApplySnapshot_ActiveForcedToZero(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1"}})
	require.True(t, s.SetActive(model.ByPeer("p1")))

	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", UnreadCount: 4}})

	c, _ := s.Conversation(model.ByPeer("p1"))
	require.Equal(t, 0, c.UnreadCount)
}

func TestApplySnapshot_PromotesPendingForSamePeer(t *testing.T) {
	s := NewConversationStore(self)
	s.EnsurePending(model.Peer{UserID: "p1", Username: "prof"})
	require.True(t, s.SetActive(model.ByPeer("p1")))

	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", UnreadCount: 3}})

	require.Equal(t, 1, s.Len())
	c, ok := s.Conversation(model.ByConversation("c1"))
	require.True(t, ok)
	require.Equal(t, "p1", c.PeerID)
	require.Equal(t, 0, c.UnreadCount)
	require.True(t, s.IsActive("c1"))
}

func TestApplyIncomingMessage_Dedup(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1"}})

	require.True(t, s.ApplyIncomingMessage(msg("1", "c1", "p1", 1), false))
	require.False(t, s.ApplyIncomingMessage(msg("1", "c1", "p1", 1), false))

	c, _ := s.Conversation(model.ByConversation("c1"))
	require.Equal(t, 1, c.UnreadCount)
	require.Len(t, s.Messages(model.ByConversation("c1")), 1)
}

func TestApplyIncomingMessage_UnknownConversationCreatesFromSender(t *testing.T) {
	s := NewConversationStore(self)
	m := msg("1", "c5", "student-7", 1)
	m.SenderUsername = "sam"

	require.True(t, s.ApplyIncomingMessage(m, false))

	c, ok := s.Conversation(model.ByPeer("student-7"))
	require.True(t, ok)
	require.Equal(t, "c5", c.ConversationID)
	require.Equal(t, "sam", c.PeerUsername)
	require.Equal(t, 1, c.UnreadCount)
}

func TestApplyIncomingMessage_PromotesPendingPlaceholder(t *testing.T) {
	s := NewConversationStore(self)
	s.EnsurePending(model.Peer{UserID: "p1"})
	s.SetActive(model.ByPeer("p1"))

	m := msg("1", "c1", "p1", 1)
	require.True(t, s.ApplyIncomingMessage(m, s.IsActive(m.ConversationID) || s.IsActivePeer(m.SenderID)))

	require.Equal(t, 1, s.Len())
	c, _ := s.Conversation(model.ByPeer("p1"))
	require.Equal(t, "c1", c.ConversationID)
	require.Equal(t, 0, c.UnreadCount)
}

func TestApplyIncomingMessage_OwnMessageUnknownConversationDropped(t *testing.T) {
	s := NewConversationStore(self)
	require.False(t, s.ApplyIncomingMessage(msg("1", "c1", self, 1), false))
	require.Equal(t, 0, s.Len())
}

func TestSelectNewPeer_PendingEmpty(t *testing.T) {
	s := NewConversationStore(self)
	c := s.EnsurePending(model.Peer{UserID: "p1", Username: "prof"})

	require.True(t, c.IsPending())
	require.Empty(t, c.ConversationID)
	require.Empty(t, s.Messages(model.ByPeer("p1")))

	again := s.EnsurePending(model.Peer{UserID: "p1", Username: "other"})
	require.Equal(t, "prof", again.PeerUsername)
	require.Equal(t, 1, s.Len())
}

func TestSendOnPendingConversation_Reconcile(t *testing.T) {
	s := NewConversationStore(self)
	s.EnsurePending(model.Peer{UserID: "p1"})
	s.SetActive(model.ByPeer("p1"))

	local := model.Message{SenderID: self, Text: "hello", SentAt: t0}
	require.True(t, s.ApplyOptimisticSend("p1", "tmp-1", local))

	optimistic := s.Messages(model.ByPeer("p1"))
	require.Len(t, optimistic, 1)
	require.True(t, optimistic[0].Pending)

	server := msg("55", "c9", self, 0)
	require.True(t, s.ReconcileSend("tmp-1", server))

	require.Equal(t, 1, s.Len())
	c, ok := s.Conversation(model.ByPeer("p1"))
	require.True(t, ok)
	require.Equal(t, "c9", c.ConversationID)
	require.Equal(t, []string{"55"}, ids(s.Messages(model.ByPeer("p1"))))
	require.Equal(t, server.Text, c.LastMessageText)

	// the push echo of the same message is a duplicate
	require.False(t, s.ApplyIncomingMessage(server, false))
	require.Len(t, s.Messages(model.ByConversation("c9")), 1)
}

func TestOptimisticSend_RejectsServerLikeID(t *testing.T) {
	s := NewConversationStore(self)
	s.EnsurePending(model.Peer{UserID: "p1"})
	require.False(t, s.ApplyOptimisticSend("p1", "42", model.Message{Text: "x"}))
	require.False(t, s.ApplyOptimisticSend("nobody", "tmp-1", model.Message{Text: "x"}))
}

func TestRollbackSend_PureRemoval(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", LastMessageText: "before", LastMessageAt: t0}})
	s.ApplyOptimisticSend("p1", "tmp-1", model.Message{SenderID: self, Text: "oops", SentAt: t0.Add(time.Minute)})

	require.True(t, s.RollbackSend("tmp-1"))
	require.False(t, s.RollbackSend("tmp-1"))

	require.Empty(t, s.Messages(model.ByConversation("c1")))
	c, _ := s.Conversation(model.ByConversation("c1"))
	require.Equal(t, "before", c.LastMessageText)
}

func TestApplyHistory_MergesAndResetsUnread(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1", UnreadCount: 5}})
	s.ApplyIncomingMessage(msg("3", "c1", "p1", 3), false)
	s.ApplyOptimisticSend("p1", "tmp-x", model.Message{SenderID: self, Text: "draft", SentAt: t0.Add(10 * time.Minute)})

	ok := s.ApplyHistory("c1", []model.Message{msg("2", "c1", self, 2), msg("1", "c1", "p1", 1), msg("3", "c1", "p1", 3)})
	require.True(t, ok)

	require.Equal(t, []string{"1", "2", "3", "tmp-x"}, ids(s.Messages(model.ByConversation("c1"))))
	c, _ := s.Conversation(model.ByConversation("c1"))
	require.Equal(t, 0, c.UnreadCount)

	require.False(t, s.ApplyHistory("missing", nil))
}

func TestMessages_TieBrokenByID(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1"}})
	s.ApplyIncomingMessage(msg("10", "c1", "p1", 1), true)
	s.ApplyIncomingMessage(msg("9", "c1", "p1", 1), true)
	s.ApplyIncomingMessage(msg("11", "c1", "p1", 0), true)

	require.Equal(t, []string{"11", "9", "10"}, ids(s.Messages(model.ByConversation("c1"))))
}

func TestSetActive_AtMostOne(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1"}, {ConversationID: "c2", PeerID: "p2"}})

	s.SetActive(model.ByConversation("c1"))
	s.SetActive(model.ByConversation("c2"))

	require.False(t, s.IsActive("c1"))
	require.True(t, s.IsActive("c2"))
	active, ok := s.Active()
	require.True(t, ok)
	require.Equal(t, "c2", active.ConversationID)

	require.False(t, s.SetActive(model.ByConversation("nope")))
	require.True(t, s.IsActive("c2"))
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{{ConversationID: "c1", PeerID: "p1"}})
	s.ApplyIncomingMessage(msg("1", "c1", "p1", 1), false)

	list := s.Messages(model.ByConversation("c1"))
	list[0].Text = "mutated"
	convs := s.Conversations()
	convs[0].UnreadCount = 99

	require.Equal(t, "text 1", s.Messages(model.ByConversation("c1"))[0].Text)
	c, _ := s.Conversation(model.ByConversation("c1"))
	require.Equal(t, 1, c.UnreadCount)
}

func TestConversations_Ordering(t *testing.T) {
	s := NewConversationStore(self)
	s.ApplySnapshot([]model.Conversation{
		{ConversationID: "c1", PeerID: "p1", LastMessageAt: t0},
		{ConversationID: "c2", PeerID: "p2", LastMessageAt: t0.Add(time.Hour)},
	})
	s.EnsurePending(model.Peer{UserID: "p3"})

	list := s.Conversations()
	require.Len(t, list, 3)
	assert.Equal(t, "p3", list[0].PeerID)
	assert.Equal(t, "c2", list[1].ConversationID)
	assert.Equal(t, "c1", list[2].ConversationID)
}

// 随机操作序列下：无重复 messageId、按 sentAt 有序、每个对手方仅一个会话、未读数与非激活推送次数一致
func TestRandomizedInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	peers := []string{"p1", "p2", "p3"}

	for round := 0; round < 50; round++ {
		s := NewConversationStore(self)
		expectedUnread := map[string]int{}
		pendingIDs := []string{}
		next := 0

		for _, p := range peers {
			s.EnsurePending(model.Peer{UserID: p})
		}

		for step := 0; step < 200; step++ {
			peer := peers[r.Intn(len(peers))]
			conv, _ := s.Conversation(model.ByPeer(peer))
			convID := conv.ConversationID
			if convID == "" {
				convID = "c-" + peer
			}

			switch r.Intn(5) {
			case 0:
				next++
				id := fmt.Sprintf("%d", r.Intn(next+1)+1) // 故意制造重复 ID
				m := msg(id+"-"+peer, convID, peer, r.Intn(60))
				active := s.IsActive(convID) || s.IsActivePeer(peer)
				if s.ApplyIncomingMessage(m, active) && !active {
					expectedUnread[peer]++
				}
			case 1:
				next++
				pid := fmt.Sprintf("tmp-%d", next)
				if s.ApplyOptimisticSend(peer, pid, model.Message{SenderID: self, Text: "x", SentAt: t0.Add(time.Duration(r.Intn(60)) * time.Minute)}) {
					pendingIDs = append(pendingIDs, pid)
				}
			case 2:
				if len(pendingIDs) == 0 {
					continue
				}
				pid := pendingIDs[0]
				pendingIDs = pendingIDs[1:]
				owner := ""
				for _, p := range peers {
					for _, m := range s.Messages(model.ByPeer(p)) {
						if m.MessageID == pid {
							owner = p
						}
					}
				}
				if owner == "" {
					continue
				}
				next++
				s.ReconcileSend(pid, msg(fmt.Sprintf("s%d", next), "c-"+owner, self, r.Intn(60)))
			case 3:
				s.SetActive(model.ByPeer(peer))
				expectedUnread[peer] = 0
			case 4:
				if len(pendingIDs) > 0 && r.Intn(2) == 0 {
					s.RollbackSend(pendingIDs[len(pendingIDs)-1])
					pendingIDs = pendingIDs[:len(pendingIDs)-1]
				}
			}
		}

		seenPeers := map[string]bool{}
		for _, c := range s.Conversations() {
			require.False(t, seenPeers[c.PeerID], "duplicate peer %s", c.PeerID)
			seenPeers[c.PeerID] = true
			require.Equal(t, expectedUnread[c.PeerID], c.UnreadCount, "unread for %s", c.PeerID)

			list := s.Messages(model.ByPeer(c.PeerID))
			seen := map[string]bool{}
			for _, m := range list {
				require.False(t, seen[m.MessageID], "duplicate message %s", m.MessageID)
				seen[m.MessageID] = true
			}
			require.True(t, sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Less(list[j]) }))
		}
	}
}
