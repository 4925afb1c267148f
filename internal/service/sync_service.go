package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/logger"
	"Courier/internal/pkg/portal"
	"Courier/internal/pkg/security"
	"Courier/internal/pkg/util"
	"Courier/internal/pkg/ws"
	"Courier/internal/store"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State 同步会话生命周期
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateLoading
	StateLive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Portal 后端 REST 接口
type Portal interface {
	ListPeers(ctx context.Context, self model.Role) ([]dto.PeerDTO, error)
	ListConversations(ctx context.Context) ([]dto.ConversationDTO, error)
	ListMessages(ctx context.Context, conversationID string) ([]dto.MessageDTO, error)
	SendMessage(ctx context.Context, req *dto.SendMessageReq) (*dto.MessageDTO, error)
}

// Channel 单次推送连接
type Channel interface {
	Events() <-chan ws.Event
	Close()
}

// ChannelDialer 推送连接工厂
type ChannelDialer interface {
	Open(ctx context.Context, token string) Channel
}

// DialerFunc 函数适配 ChannelDialer
type DialerFunc func(ctx context.Context, token string) Channel

func (f DialerFunc) Open(ctx context.Context, token string) Channel {
	return f(ctx, token)
}

// Credentials 凭据来源
type Credentials interface {
	Token() string
	Clear() error
}

// Session 视图层可调用的会话操作
type Session interface {
	State() State
	Identity(ctx context.Context) (model.Identity, error)
	Peers(ctx context.Context) ([]model.Peer, error)
	Conversations(ctx context.Context) ([]model.Conversation, string, error)
	Messages(ctx context.Context, ref model.Ref) ([]model.Message, error)
	SelectPeer(ctx context.Context, peerID string) (model.Conversation, error)
	SelectConversation(ctx context.Context, conversationID string) (model.Conversation, error)
	SendMessage(ctx context.Context, target model.Ref, text string) (model.Message, error)
	Refresh(ctx context.Context) error
	Notices(ctx context.Context) ([]model.Notice, error)
	DismissNotice(ctx context.Context, id string) error
	Logout(ctx context.Context) error
}

var _ Session = (*SyncService)(nil)

// Options 同步会话参数
type Options struct {
	Audience        model.Role
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Now             func() time.Time
}

// SyncService 会话同步协调器
// Store 及全部会话状态只在 Run 的事件循环中读写，其余 goroutine 通过 post 投递任务
type SyncService struct {
	portal Portal
	dialer ChannelDialer
	creds  Credentials
	opts   Options

	tasks   chan func()
	done    chan struct{}
	started atomic.Bool
	state   atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 以下字段仅事件循环访问
	identity *model.Identity
	store    *store.ConversationStore
	peers    []model.Peer
	notices  []model.Notice
	closeErr error

	channel     Channel
	channelGen  uint64
	channelDown bool
	attempts    int
	backoff     *backoff.ExponentialBackOff

	snapshotSeq uint64
	historySeq  uint64
}

func NewSyncService(p Portal, dialer ChannelDialer, creds Credentials, opts Options) *SyncService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		b.MaxInterval = opts.MaxInterval
	}
	if opts.Multiplier > 0 {
		b.Multiplier = opts.Multiplier
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &SyncService{
		portal:  p,
		dialer:  dialer,
		creds:   creds,
		opts:    opts,
		tasks:   make(chan func()),
		done:    make(chan struct{}),
		backoff: b,
	}
}

// Run 认证后启动事件循环，直到登出、认证失败或 ctx 取消
// 认证失败时返回认证错误，其余情况返回 nil
func (s *SyncService) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sync service already started")
	}
	defer close(s.done)

	ctx = logger.WithTraceID(ctx, consts.SessionTracePrefix+uuid.NewString())
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.shutdown()

	s.setState(StateAuthenticating)
	identity, err := security.ParseIdentity(s.creds.Token(), s.opts.Audience)
	if err != nil {
		s.fatal(err)
		return s.closeErr
	}
	s.identity = identity
	s.store = store.NewConversationStore(identity.ID)
	log.InfoContext(s.ctx, "会话认证成功", "userID", identity.ID, "role", identity.Role)

	s.setState(StateLoading)
	s.loadInitial()
	s.openChannel()

	for {
		select {
		case <-s.ctx.Done():
			log.InfoContext(s.ctx, "同步会话退出")
			s.setState(StateClosed)
			return nil
		case task := <-s.tasks:
			task()
		}
		if s.State() == StateClosed {
			return s.closeErr
		}
	}
}

// shutdown 关闭通道、等待异步任务并丢弃本地状态
func (s *SyncService) shutdown() {
	s.cancel()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	s.wg.Wait()
	s.identity = nil
	s.store = nil
	s.peers = nil
}

func (s *SyncService) State() State {
	return State(s.state.Load())
}

func (s *SyncService) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st && s.ctx != nil {
		log.InfoContext(s.ctx, "同步状态变更", "from", old.String(), "to", st.String())
	}
}

// fatal 认证类错误：关闭会话并丢弃凭据
func (s *SyncService) fatal(err error) {
	log.ErrorContext(s.ctx, "认证失败，会话关闭", "err", err)
	s.closeErr = err
	if cErr := s.creds.Clear(); cErr != nil {
		log.WarnContext(s.ctx, "清除凭据失败", "err", cErr)
	}
	s.pushNotice(model.NoticeAuth, err.Error())
	s.setState(StateClosed)
}

// post 向事件循环投递任务，会话结束后返回 false
func (s *SyncService) post(task func()) bool {
	select {
	case s.tasks <- task:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// async 在独立 goroutine 中执行阻塞操作
func (s *SyncService) async(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// call 在事件循环中执行 fn 并等待结果
func call[T any](ctx context.Context, s *SyncService, fn func() (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	task := func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}

	select {
	case s.tasks <- task:
	case <-s.done:
		return zero, ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *SyncService) ready() error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if s.store == nil {
		return ErrSessionNotReady
	}
	return nil
}

// classify 将后端错误归类：401 为致命认证错误，其余按 kind 包装
func classify(err error, kind error) error {
	if errors.Is(err, portal.ErrUnauthorized) {
		return fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (s *SyncService) pushNotice(kind model.NoticeKind, msg string) {
	s.notices = append(s.notices, model.Notice{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: msg,
		At:      s.opts.Now(),
	})
	if over := len(s.notices) - consts.MaxNotices; over > 0 {
		s.notices = append(s.notices[:0:0], s.notices[over:]...)
	}
}

// handleErr 非致命错误记为提示，认证错误关闭会话
func (s *SyncService) handleErr(err error, kind model.NoticeKind) {
	if IsAuthError(err) {
		s.fatal(err)
		return
	}
	log.WarnContext(s.ctx, "同步操作失败", "kind", kind, "err", err)
	s.pushNotice(kind, err.Error())
}

// loadInitial 并发拉取通讯录与会话快照
func (s *SyncService) loadInitial() {
	s.snapshotSeq++
	seq := s.snapshotSeq
	role := s.identity.Role
	s.async(func(ctx context.Context) {
		var g errgroup.Group
		g.Go(func() error { return s.fetchPeers(ctx, role) })
		g.Go(func() error { return s.fetchSnapshot(ctx, seq) })
		if err := g.Wait(); err != nil {
			log.WarnContext(ctx, "初始加载未完成", "err", err)
		}
	})
}

func (s *SyncService) loadSnapshot() {
	s.snapshotSeq++
	seq := s.snapshotSeq
	s.async(func(ctx context.Context) {
		_ = s.fetchSnapshot(ctx, seq)
	})
}

func (s *SyncService) fetchPeers(ctx context.Context, role model.Role) error {
	list, err := s.portal.ListPeers(ctx, role)
	if err != nil {
		err = classify(err, ErrSync)
	}
	s.post(func() { s.onPeers(list, err) })
	return err
}

func (s *SyncService) fetchSnapshot(ctx context.Context, seq uint64) error {
	list, err := s.portal.ListConversations(ctx)
	if err != nil {
		err = classify(err, ErrSync)
	}
	s.post(func() { s.onSnapshot(seq, list, err) })
	return err
}

func (s *SyncService) onPeers(list []dto.PeerDTO, err error) {
	if s.ready() != nil {
		return
	}
	if err != nil {
		s.handleErr(err, model.NoticeSync)
		return
	}
	peers := make([]model.Peer, 0, len(list))
	for _, p := range list {
		if p.UserID == "" {
			continue
		}
		peers = append(peers, p.ToModel())
	}
	s.peers = peers
}

func (s *SyncService) onSnapshot(seq uint64, list []dto.ConversationDTO, err error) {
	if s.ready() != nil {
		return
	}
	if seq != s.snapshotSeq {
		log.DebugContext(s.ctx, "丢弃过期会话快照", "seq", seq, "current", s.snapshotSeq)
		return
	}
	if err != nil {
		s.handleErr(err, model.NoticeSync)
		return
	}

	convs := make([]model.Conversation, 0, len(list))
	for _, c := range list {
		convs = append(convs, c.ToModel(s.identity.Role))
	}
	s.store.ApplySnapshot(convs)
	log.InfoContext(s.ctx, "会话快照已应用", "count", len(convs))

	if s.State() == StateLoading {
		if s.channelDown {
			s.setState(StateReconnecting)
		} else {
			s.setState(StateLive)
		}
	}
}

// Identity 当前用户身份
func (s *SyncService) Identity(ctx context.Context) (model.Identity, error) {
	return call(ctx, s, func() (model.Identity, error) {
		if err := s.ready(); err != nil {
			return model.Identity{}, err
		}
		return *s.identity, nil
	})
}

// Peers 通讯录
func (s *SyncService) Peers(ctx context.Context) ([]model.Peer, error) {
	return call(ctx, s, func() ([]model.Peer, error) {
		if err := s.ready(); err != nil {
			return nil, err
		}
		return append([]model.Peer(nil), s.peers...), nil
	})
}

// Conversations 会话列表及当前激活会话的对手方
func (s *SyncService) Conversations(ctx context.Context) ([]model.Conversation, string, error) {
	type inbox struct {
		list   []model.Conversation
		active string
	}
	out, err := call(ctx, s, func() (inbox, error) {
		if err := s.ready(); err != nil {
			return inbox{}, err
		}
		return inbox{list: s.store.Conversations(), active: s.store.ActivePeerID()}, nil
	})
	return out.list, out.active, err
}

// Messages 指定会话的消息；ref 为空时取激活会话
func (s *SyncService) Messages(ctx context.Context, ref model.Ref) ([]model.Message, error) {
	return call(ctx, s, func() ([]model.Message, error) {
		if err := s.ready(); err != nil {
			return nil, err
		}
		if ref.IsZero() {
			active, ok := s.store.Active()
			if !ok {
				return nil, ErrConversationNotFound
			}
			ref = model.ByPeer(active.PeerID)
		}
		if _, ok := s.store.Conversation(ref); !ok {
			return nil, ErrConversationNotFound
		}
		return s.store.Messages(ref), nil
	})
}

// SelectPeer 选择对手方；没有会话时同步建立待定会话，不发起网络请求
func (s *SyncService) SelectPeer(ctx context.Context, peerID string) (model.Conversation, error) {
	if util.IsBlank(peerID) {
		return model.Conversation{}, ErrParamInvalid
	}
	return call(ctx, s, func() (model.Conversation, error) {
		if err := s.ready(); err != nil {
			return model.Conversation{}, err
		}
		if conv, ok := s.store.Conversation(model.ByPeer(peerID)); ok {
			return s.activate(conv), nil
		}
		conv := s.store.EnsurePending(s.lookupPeer(peerID))
		s.store.SetActive(model.ByPeer(peerID))
		s.historySeq++
		conv.UnreadCount = 0
		return conv, nil
	})
}

// SelectConversation 选择已有会话并加载历史
func (s *SyncService) SelectConversation(ctx context.Context, conversationID string) (model.Conversation, error) {
	if util.IsBlank(conversationID) {
		return model.Conversation{}, ErrParamInvalid
	}
	return call(ctx, s, func() (model.Conversation, error) {
		if err := s.ready(); err != nil {
			return model.Conversation{}, err
		}
		conv, ok := s.store.Conversation(model.ByConversation(conversationID))
		if !ok {
			return model.Conversation{}, ErrConversationNotFound
		}
		return s.activate(conv), nil
	})
}

func (s *SyncService) lookupPeer(peerID string) model.Peer {
	for _, p := range s.peers {
		if p.UserID == peerID {
			return p
		}
	}
	return model.Peer{UserID: peerID}
}

// activate 激活会话；已确认的会话异步加载历史，过期的加载结果被丢弃
func (s *SyncService) activate(conv model.Conversation) model.Conversation {
	s.store.SetActive(model.ByPeer(conv.PeerID))
	conv.UnreadCount = 0
	s.historySeq++
	if conv.IsPending() {
		return conv
	}

	seq, convID := s.historySeq, conv.ConversationID
	s.async(func(ctx context.Context) {
		list, err := s.portal.ListMessages(ctx, convID)
		if err != nil {
			err = classify(err, ErrSync)
		}
		s.post(func() { s.onHistory(seq, convID, list, err) })
	})
	return conv
}

func (s *SyncService) onHistory(seq uint64, conversationID string, list []dto.MessageDTO, err error) {
	if s.ready() != nil {
		return
	}
	if seq != s.historySeq || !s.store.IsActive(conversationID) {
		log.DebugContext(s.ctx, "丢弃过期历史消息", "conversationID", conversationID)
		return
	}
	if err != nil {
		s.handleErr(err, model.NoticeSync)
		return
	}
	msgs := make([]model.Message, 0, len(list))
	for _, m := range list {
		msgs = append(msgs, m.ToModel())
	}
	s.store.ApplyHistory(conversationID, msgs)
}

type sendResult struct {
	msg model.Message
	err error
}

// SendMessage 乐观发送：先插入本地消息，后端确认后替换，失败则回滚
// 不自动重试，失败时返回 ErrSend
func (s *SyncService) SendMessage(ctx context.Context, target model.Ref, text string) (model.Message, error) {
	if util.IsBlank(text) {
		return model.Message{}, ErrEmptyMessage
	}
	if target.IsZero() {
		return model.Message{}, ErrParamInvalid
	}

	wait, err := call(ctx, s, func() (chan sendResult, error) {
		if err := s.ready(); err != nil {
			return nil, err
		}
		return s.startSend(target, text)
	})
	if err != nil {
		return model.Message{}, err
	}

	select {
	case r := <-wait:
		return r.msg, r.err
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

func (s *SyncService) startSend(target model.Ref, text string) (chan sendResult, error) {
	conv, ok := s.store.Conversation(target)
	if !ok {
		if target.ConversationID != "" {
			return nil, ErrConversationNotFound
		}
		conv = s.store.EnsurePending(s.lookupPeer(target.PeerID))
	}

	pendingID := util.NewTempID(model.TempIDPrefix)
	optimistic := model.Message{
		SenderID:       s.identity.ID,
		SenderUsername: s.identity.Username,
		Text:           text,
		SentAt:         s.opts.Now().UTC(),
	}
	s.store.ApplyOptimisticSend(conv.PeerID, pendingID, optimistic)

	wait := make(chan sendResult, 1)
	req := &dto.SendMessageReq{ReceiverID: conv.PeerID, MessageText: text}
	s.async(func(ctx context.Context) {
		resp, err := s.portal.SendMessage(ctx, req)
		if !s.post(func() { wait <- s.finishSend(pendingID, resp, err) }) {
			wait <- sendResult{err: ErrSessionClosed}
		}
	})
	return wait, nil
}

func (s *SyncService) finishSend(pendingID string, resp *dto.MessageDTO, err error) sendResult {
	if s.ready() != nil {
		return sendResult{err: ErrSessionClosed}
	}
	if err == nil && resp != nil {
		server := resp.ToModel()
		if s.store.ReconcileSend(pendingID, server) {
			return sendResult{msg: server}
		}
		err = errors.New("后端未返回会话或消息 ID")
	}
	if err == nil {
		err = errors.New("后端响应为空")
	}

	s.store.RollbackSend(pendingID)
	err = classify(err, ErrSend)
	s.handleErr(err, model.NoticeSend)
	return sendResult{err: err}
}

// Refresh 重新拉取通讯录与会话快照
func (s *SyncService) Refresh(ctx context.Context) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		if err := s.ready(); err != nil {
			return struct{}{}, err
		}
		s.loadInitial()
		return struct{}{}, nil
	})
	return err
}

// Notices 未关闭的提示，按时间先后
func (s *SyncService) Notices(ctx context.Context) ([]model.Notice, error) {
	return call(ctx, s, func() ([]model.Notice, error) {
		return append([]model.Notice(nil), s.notices...), nil
	})
}

// DismissNotice 关闭一条提示
func (s *SyncService) DismissNotice(ctx context.Context, id string) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		for i, n := range s.notices {
			if n.ID == id {
				s.notices = append(s.notices[:i], s.notices[i+1:]...)
				return struct{}{}, nil
			}
		}
		return struct{}{}, ErrNoticeNotFound
	})
	return err
}

// Logout 登出：丢弃凭据并关闭会话
func (s *SyncService) Logout(ctx context.Context) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		if err := s.creds.Clear(); err != nil {
			log.WarnContext(s.ctx, "清除凭据失败", "err", err)
		}
		log.InfoContext(s.ctx, "用户登出")
		s.setState(StateClosed)
		return struct{}{}, nil
	})
	return err
}
