package store

import (
	"Courier/internal/model"
	log "log/slog"
	"slices"
	"sort"
)

// thread 单个会话及其消息，消息始终按 sentAt 升序
type thread struct {
	conv     model.Conversation
	messages []model.Message
	ids      map[string]struct{}
}

func newThread(conv model.Conversation) *thread {
	return &thread{conv: conv, ids: make(map[string]struct{})}
}

func (t *thread) has(messageID string) bool {
	_, ok := t.ids[messageID]
	return ok
}

func (t *thread) insert(m model.Message) bool {
	if m.MessageID == "" || t.has(m.MessageID) {
		return false
	}
	i := sort.Search(len(t.messages), func(i int) bool { return m.Less(t.messages[i]) })
	t.messages = slices.Insert(t.messages, i, m)
	t.ids[m.MessageID] = struct{}{}
	return true
}

func (t *thread) remove(messageID string) bool {
	if !t.has(messageID) {
		return false
	}
	t.messages = slices.DeleteFunc(t.messages, func(m model.Message) bool { return m.MessageID == messageID })
	delete(t.ids, messageID)
	return true
}

// touch 用较新的消息刷新会话摘要
func (t *thread) touch(m model.Message) {
	if m.SentAt.Before(t.conv.LastMessageAt) {
		return
	}
	t.conv.LastMessageText = m.Text
	t.conv.LastMessageAt = m.SentAt
}

// ConversationStore 会话与消息的内存模型
// 只应由单一事件循环调用，本身不加锁
type ConversationStore struct {
	selfID     string
	threads    []*thread
	byPeer     map[string]*thread
	byConv     map[string]*thread
	activePeer string
}

func NewConversationStore(selfID string) *ConversationStore {
	return &ConversationStore{
		selfID: selfID,
		byPeer: make(map[string]*thread),
		byConv: make(map[string]*thread),
	}
}

func (s *ConversationStore) add(t *thread) {
	s.threads = append(s.threads, t)
	s.byPeer[t.conv.PeerID] = t
	if t.conv.ConversationID != "" {
		s.byConv[t.conv.ConversationID] = t
	}
}

func (s *ConversationStore) drop(t *thread) {
	s.threads = slices.DeleteFunc(s.threads, func(x *thread) bool { return x == t })
	if s.byPeer[t.conv.PeerID] == t {
		delete(s.byPeer, t.conv.PeerID)
	}
	if t.conv.ConversationID != "" && s.byConv[t.conv.ConversationID] == t {
		delete(s.byConv, t.conv.ConversationID)
	}
}

func (s *ConversationStore) resolve(ref model.Ref) *thread {
	if ref.ConversationID != "" {
		return s.byConv[ref.ConversationID]
	}
	if ref.PeerID != "" {
		return s.byPeer[ref.PeerID]
	}
	return nil
}

func (s *ConversationStore) isActive(t *thread) bool {
	return s.activePeer != "" && t.conv.PeerID == s.activePeer
}

// promote 待定会话获得服务端 ID；若该 ID 已被另一条目占用则合并进去
func (s *ConversationStore) promote(t *thread, conversationID string) *thread {
	if other, ok := s.byConv[conversationID]; ok && other != t {
		for _, m := range t.messages {
			other.insert(m)
		}
		s.drop(t)
		other.conv.PeerID = t.conv.PeerID
		s.byPeer[t.conv.PeerID] = other
		return other
	}
	if t.conv.ConversationID != "" && s.byConv[t.conv.ConversationID] == t {
		delete(s.byConv, t.conv.ConversationID)
	}
	t.conv.ConversationID = conversationID
	s.byConv[conversationID] = t
	return t
}

// ApplySnapshot 合并 REST 会话快照
// 已确认会话以快照为准，未读数保留本地值（激活会话清零）；快照中没有的待定会话保留
func (s *ConversationStore) ApplySnapshot(conversations []model.Conversation) {
	for _, c := range conversations {
		if c.ConversationID == "" || c.PeerID == "" {
			log.Warn("store: skip snapshot entry without identity", "conversation_id", c.ConversationID, "peer_id", c.PeerID)
			continue
		}

		t := s.byConv[c.ConversationID]
		if t == nil {
			t = s.byPeer[c.PeerID]
		}

		if t == nil {
			t = newThread(c)
			s.add(t)
		} else {
			unread := t.conv.UnreadCount
			if t.conv.PeerID != c.PeerID && s.byPeer[t.conv.PeerID] == t {
				delete(s.byPeer, t.conv.PeerID)
			}
			if existing, ok := s.byPeer[c.PeerID]; ok && existing != t {
				for _, m := range existing.messages {
					t.insert(m)
				}
				s.drop(existing)
			}
			t = s.promote(t, c.ConversationID)
			t.conv = c
			t.conv.UnreadCount = unread
			s.byPeer[c.PeerID] = t
		}

		if s.isActive(t) {
			t.conv.UnreadCount = 0
		}
	}
}

// ApplyIncomingMessage 应用推送消息，重复的 messageId 直接丢弃
// 未知会话的首条消息以发送方为对手方建立会话
func (s *ConversationStore) ApplyIncomingMessage(m model.Message, isActiveConversation bool) bool {
	if m.ConversationID == "" || m.MessageID == "" {
		return false
	}

	t := s.byConv[m.ConversationID]
	if t == nil {
		if m.SenderID == "" || m.SenderID == s.selfID {
			log.Debug("store: drop own message for unknown conversation", "conversation_id", m.ConversationID)
			return false
		}
		t = s.byPeer[m.SenderID]
		switch {
		case t == nil:
			t = newThread(model.Conversation{
				ConversationID: m.ConversationID,
				PeerID:         m.SenderID,
				PeerUsername:   m.SenderUsername,
			})
			s.add(t)
		case t.conv.IsPending():
			t = s.promote(t, m.ConversationID)
		default:
			log.Warn("store: peer already has another conversation",
				"peer_id", m.SenderID, "known", t.conv.ConversationID, "incoming", m.ConversationID)
			return false
		}
	}

	m.Pending = false
	if !t.insert(m) {
		return false
	}
	t.touch(m)

	if !isActiveConversation && m.SenderID != s.selfID {
		t.conv.UnreadCount++
	}
	return true
}

// EnsurePending 为没有会话的对手方建立本地待定会话
func (s *ConversationStore) EnsurePending(peer model.Peer) model.Conversation {
	if t, ok := s.byPeer[peer.UserID]; ok {
		return t.conv
	}
	t := newThread(model.Conversation{PeerID: peer.UserID, PeerUsername: peer.Username})
	s.add(t)
	return t.conv
}

// ApplyOptimisticSend 立即插入本地发送的消息，使用临时 ID
func (s *ConversationStore) ApplyOptimisticSend(peerID, pendingID string, m model.Message) bool {
	t := s.byPeer[peerID]
	if t == nil || !model.IsTempID(pendingID) {
		return false
	}
	m.MessageID = pendingID
	m.ConversationID = t.conv.ConversationID
	m.Pending = true
	return t.insert(m)
}

// ReconcileSend 用服务端确认的消息替换临时消息，必要时提升待定会话
func (s *ConversationStore) ReconcileSend(pendingID string, server model.Message) bool {
	if server.ConversationID == "" || server.MessageID == "" {
		return false
	}

	t := s.threadOf(pendingID)
	if t == nil {
		t = s.byConv[server.ConversationID]
	}
	if t == nil {
		return false
	}

	t.remove(pendingID)
	if t.conv.ConversationID != server.ConversationID {
		t = s.promote(t, server.ConversationID)
	}

	server.Pending = false
	t.insert(server)
	t.touch(server)
	return true
}

// RollbackSend 发送失败时移除临时消息
func (s *ConversationStore) RollbackSend(pendingID string) bool {
	t := s.threadOf(pendingID)
	if t == nil {
		return false
	}
	return t.remove(pendingID)
}

// ApplyHistory 合并 REST 历史消息并清零未读
func (s *ConversationStore) ApplyHistory(conversationID string, messages []model.Message) bool {
	t := s.byConv[conversationID]
	if t == nil {
		return false
	}
	for _, m := range messages {
		if m.ConversationID != conversationID {
			continue
		}
		m.Pending = false
		if t.insert(m) {
			t.touch(m)
		}
	}
	t.conv.UnreadCount = 0
	return true
}

// SetActive 激活会话并清零未读，同一时刻至多一个激活会话
func (s *ConversationStore) SetActive(ref model.Ref) bool {
	t := s.resolve(ref)
	if t == nil {
		return false
	}
	s.activePeer = t.conv.PeerID
	t.conv.UnreadCount = 0
	return true
}

func (s *ConversationStore) threadOf(messageID string) *thread {
	for _, t := range s.threads {
		if t.has(messageID) {
			return t
		}
	}
	return nil
}

// Conversations 会话列表快照：待定会话在前，其余按最后消息时间倒序
func (s *ConversationStore) Conversations() []model.Conversation {
	out := make([]model.Conversation, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPending() != b.IsPending() {
			return a.IsPending()
		}
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.PeerID < b.PeerID
	})
	return out
}

// Conversation 单个会话快照
func (s *ConversationStore) Conversation(ref model.Ref) (model.Conversation, bool) {
	t := s.resolve(ref)
	if t == nil {
		return model.Conversation{}, false
	}
	return t.conv, true
}

// Messages 消息列表快照
func (s *ConversationStore) Messages(ref model.Ref) []model.Message {
	t := s.resolve(ref)
	if t == nil {
		return nil
	}
	return slices.Clone(t.messages)
}

// Active 当前激活会话
func (s *ConversationStore) Active() (model.Conversation, bool) {
	if s.activePeer == "" {
		return model.Conversation{}, false
	}
	return s.Conversation(model.ByPeer(s.activePeer))
}

// IsActive 指定会话是否为激活会话
func (s *ConversationStore) IsActive(conversationID string) bool {
	t := s.byConv[conversationID]
	return t != nil && s.isActive(t)
}

// IsActivePeer 与指定对手方的会话是否为激活会话
func (s *ConversationStore) IsActivePeer(peerID string) bool {
	return peerID != "" && s.activePeer == peerID
}

// ActivePeerID 激活会话的对手方
func (s *ConversationStore) ActivePeerID() string {
	return s.activePeer
}

func (s *ConversationStore) Len() int {
	return len(s.threads)
}
