package service

import (
	"Courier/internal/model"
	"Courier/internal/pkg/ws"
	"context"
	"fmt"
	log "log/slog"
	"time"
)

// openChannel 打开新一代推送连接，旧连接的事件一律忽略
func (s *SyncService) openChannel() {
	if s.channel != nil {
		s.channel.Close()
	}
	s.channelGen++
	gen := s.channelGen
	ch := s.dialer.Open(s.ctx, s.creds.Token())
	s.channel = ch

	s.wg.Add(1)
	go s.pump(gen, ch)
}

// pump 将通道事件转入事件循环
func (s *SyncService) pump(gen uint64, ch Channel) {
	defer s.wg.Done()
	for {
		select {
		case e, ok := <-ch.Events():
			if !ok {
				return
			}
			if !s.post(func() { s.onChannelEvent(gen, e) }) {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SyncService) onChannelEvent(gen uint64, e ws.Event) {
	if s.ready() != nil || gen != s.channelGen {
		return
	}

	switch e.Type {
	case ws.EventConnected:
		wasDown := s.channelDown
		s.channelDown = false
		s.attempts = 0
		s.backoff.Reset()
		log.InfoContext(s.ctx, "推送连接已建立", "gen", gen)
		if s.State() == StateReconnecting {
			s.setState(StateLive)
		}
		if wasDown {
			// 断线期间的消息只能靠快照补齐
			s.loadSnapshot()
		}

	case ws.EventDisconnected:
		if s.channel == nil {
			return
		}
		s.channel.Close()
		s.channel = nil
		if !s.channelDown && s.State() == StateLive {
			s.pushNotice(model.NoticeTransport, fmt.Errorf("%w: %v", ErrTransport, e.Reason).Error())
		}
		s.channelDown = true
		if s.State() == StateLive {
			s.setState(StateReconnecting)
		}
		log.WarnContext(s.ctx, "推送连接断开", "gen", gen, "reason", e.Reason)
		s.scheduleReconnect(gen)

	case ws.EventMessage:
		m := e.Message
		active := s.store.IsActive(m.ConversationID) || s.store.IsActivePeer(m.SenderID)
		if !s.store.ApplyIncomingMessage(m, active) {
			log.DebugContext(s.ctx, "推送消息未应用", "messageID", m.MessageID, "conversationID", m.ConversationID)
		}
	}
}

// scheduleReconnect 首次立即重试，之后指数退避，直到会话结束
func (s *SyncService) scheduleReconnect(gen uint64) {
	delay := s.nextDelay()
	log.InfoContext(s.ctx, "准备重连推送通道", "attempt", s.attempts, "delay", delay)

	s.async(func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.post(func() { s.reconnect(gen) })
		case <-ctx.Done():
		}
	})
}

// nextDelay 第一次重试为 0，之后不超过 MaxInterval
func (s *SyncService) nextDelay() time.Duration {
	s.attempts++
	if s.attempts == 1 {
		return 0
	}
	delay := s.backoff.NextBackOff()
	if delay > s.backoff.MaxInterval {
		delay = s.backoff.MaxInterval
	}
	return delay
}

func (s *SyncService) reconnect(gen uint64) {
	if s.ready() != nil || gen != s.channelGen || s.channel != nil {
		return
	}
	s.openChannel()
}
