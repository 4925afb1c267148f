package ws

import (
	"Courier/internal/model"
	"Courier/internal/pkg/consts"
	"context"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// EventType 通道事件类型
type EventType int

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event 通道事件
type Event struct {
	Type    EventType
	Reason  error         // EventDisconnected 时的断开原因
	Message model.Message // EventMessage 时的消息
}

// Dialer 推送通道拨号器，同一 Dialer 可多次 Open
type Dialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewDialer(wsURL string, openTimeout time.Duration) *Dialer {
	return &Dialer{
		url: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: openTimeout,
		},
	}
}

// Open 发起一次连接尝试，立即返回
// 结果通过 Events 通知：先 Connected 或直接 Disconnected，通道不会自行重连
func (d *Dialer) Open(ctx context.Context, token string) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	ch.wg.Add(1)
	go ch.run(ctx, d, token)
	return ch
}

func (d *Dialer) endpoint(token string) (string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", errors.Wrapf(err, "ws: invalid url %q", d.url)
	}
	q := u.Query()
	q.Set(consts.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Channel 单次连接尝试的句柄
type Channel struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	once sync.Once
	wg   sync.WaitGroup
}

// Events 事件流，连接结束后关闭
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Close 关闭通道，可重复调用；返回后不会再有事件发出
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.mu.Lock()
		c.closed = true
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}

func (c *Channel) run(ctx context.Context, d *Dialer, token string) {
	defer c.wg.Done()
	defer close(c.events)

	endpoint, err := d.endpoint(token)
	if err != nil {
		c.emit(Event{Type: EventDisconnected, Reason: err})
		return
	}

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = errors.Wrapf(err, "ws: handshake status %d", resp.StatusCode)
		} else {
			err = errors.Wrap(err, "ws: dial")
		}
		c.emit(Event{Type: EventDisconnected, Reason: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if !c.emit(Event{Type: EventConnected}) {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.emit(Event{Type: EventDisconnected, Reason: errors.Wrap(err, "ws: read")})
			return
		}
		msg, ok, err := ParseFrame(data)
		if err != nil {
			log.WarnContext(ctx, "丢弃无法解析的推送帧", "err", err, "size", len(data))
			continue
		}
		if !ok {
			continue
		}
		if !c.emit(Event{Type: EventMessage, Message: msg}) {
			return
		}
	}
}

// emit 投递事件，通道关闭后返回 false
func (c *Channel) emit(e Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- e:
		return true
	case <-c.done:
		return false
	}
}
