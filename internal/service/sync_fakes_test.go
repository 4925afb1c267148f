package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/security"
	"Courier/internal/pkg/ws"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// eventually 异步断言的等待上限
const eventually = 3 * time.Second

func signToken(t *testing.T, sub, username string, roles ...string) string {
	t.Helper()
	claims := security.UserClaims{
		PreferredUsername: username,
		RealmAccess:       security.RealmAccess{Roles: roles},
		RegisteredClaims:  jwt.RegisteredClaims{Subject: sub},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type fakePortal struct {
	mu        sync.Mutex
	peers     []dto.PeerDTO
	convs     []dto.ConversationDTO
	convErr   error
	history   map[string][]dto.MessageDTO
	gates     map[string]chan struct{}
	sendFn    func(req *dto.SendMessageReq) (*dto.MessageDTO, error)
	peerRoles []model.Role
	calls     map[string]int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		history: make(map[string][]dto.MessageDTO),
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
	}
}

func (p *fakePortal) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakePortal) setConvErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convErr = err
}

func (p *fakePortal) ListPeers(_ context.Context, self model.Role) ([]dto.PeerDTO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["peers"]++
	p.peerRoles = append(p.peerRoles, self)
	return append([]dto.PeerDTO(nil), p.peers...), nil
}

func (p *fakePortal) ListConversations(_ context.Context) ([]dto.ConversationDTO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["conversations"]++
	if p.convErr != nil {
		return nil, p.convErr
	}
	return append([]dto.ConversationDTO(nil), p.convs...), nil
}

func (p *fakePortal) ListMessages(ctx context.Context, conversationID string) ([]dto.MessageDTO, error) {
	p.mu.Lock()
	p.calls["messages"]++
	gate := p.gates[conversationID]
	list := append([]dto.MessageDTO(nil), p.history[conversationID]...)
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, nil
}

func (p *fakePortal) SendMessage(_ context.Context, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	p.mu.Lock()
	p.calls["send"]++
	fn := p.sendFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(req)
}

type fakeChannel struct {
	mu     sync.Mutex
	events chan ws.Event
	closed bool
}

func (c *fakeChannel) Events() <-chan ws.Event { return c.events }

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *fakeChannel) send(e ws.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- e
	}
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer connect 决定第 n 次（从 0 开始）连接是否成功
type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	tokens   []string
	openedAt []time.Time
	connect  func(n int) bool
}

func (d *fakeDialer) Open(_ context.Context, token string) Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &fakeChannel{events: make(chan ws.Event, 64)}
	n := len(d.channels)
	d.channels = append(d.channels, ch)
	d.tokens = append(d.tokens, token)
	d.openedAt = append(d.openedAt, time.Now())
	if d.connect == nil || d.connect(n) {
		ch.events <- ws.Event{Type: ws.EventConnected}
	} else {
		ch.events <- ws.Event{Type: ws.EventDisconnected, Reason: context.DeadlineExceeded}
	}
	return ch
}

func (d *fakeDialer) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) openTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.openedAt...)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

type fakeCreds struct {
	mu      sync.Mutex
	token   string
	cleared bool
}

func (c *fakeCreds) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *fakeCreds) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.cleared = true
	return nil
}

func (c *fakeCreds) wasCleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

type harness struct {
	svc    *SyncService
	portal *fakePortal
	dialer *fakeDialer
	creds  *fakeCreds
	runErr error
	exited chan struct{}
}

func startHarness(t *testing.T, p *fakePortal, d *fakeDialer, token string, audience model.Role) *harness {
	t.Helper()
	return startHarnessWith(t, p, d, token, Options{
		Audience:        audience,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2,
	})
}

func startHarnessWith(t *testing.T, p *fakePortal, d *fakeDialer, token string, opts Options) *harness {
	t.Helper()
	creds := &fakeCreds{token: token}
	svc := NewSyncService(p, d, creds, opts)
	h := &harness{svc: svc, portal: p, dialer: d, creds: creds, exited: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.runErr = svc.Run(ctx)
		close(h.exited)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.exited
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.exited:
		return h.runErr
	case <-time.After(eventually):
		t.Fatal("sync service did not exit")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, st State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.svc.State() == st }, eventually, 5*time.Millisecond,
		"want state %s, got %s", st, h.svc.State())
}

func (h *harness) conversation(t *testing.T, peerID string) model.Conversation {
	t.Helper()
	list, _, err := h.svc.Conversations(context.Background())
	require.NoError(t, err)
	for _, c := range list {
		if c.PeerID == peerID {
			return c
		}
	}
	t.Fatalf("no conversation for peer %s", peerID)
	return model.Conversation{}
}

func convDTO(id, profID, studentID string, unread int) dto.ConversationDTO {
	return dto.ConversationDTO{
		ConversationID:  dto.FlexID(id),
		ProfID:          dto.FlexID(profID),
		StudentID:       dto.FlexID(studentID),
		ProfUsername:    "prof-" + profID,
		StudentUsername: "student-" + studentID,
		LastMessageAt:   dto.Timestamp{Time: t0},
		UnreadCount:     unread,
	}
}

func msgDTO(id, convID, senderID, text string, at time.Time) dto.MessageDTO {
	return dto.MessageDTO{
		MessageID:      dto.FlexID(id),
		ConversationID: dto.FlexID(convID),
		SenderID:       dto.FlexID(senderID),
		MessageText:    text,
		SentAt:         dto.Timestamp{Time: at},
	}
}
