// Package callclient 实现客户端侧的通话核心：消费信令控制器下发的
// call:* 事件，驱动 Pion PeerConnection 的建连与本地媒体发布。
// 不持有任何共享业务状态，纯粹被信令事件和本地用户操作驱动。
package callclient

import (
	"context"
	log "log/slog"
	"sync"

	"Meetstreet/internal/realtime"

	"github.com/goccy/go-json"
)

// Manager 管理本端的通话会话并把下行信令路由到对应会话
type Manager struct {
	sig    Signaler
	media  func() MediaSource
	selfID uint64

	mu       sync.RWMutex
	sessions map[string]*Session

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)

	done      chan struct{}
	closeOnce sync.Once
}

// New 创建 Manager 并立即开始消费下行事件。
// media 是采集器工厂，每路通话独占一个 MediaSource。
func New(sig Signaler, media func() MediaSource, selfID uint64) *Manager {
	m := &Manager{
		sig:      sig,
		media:    media,
		selfID:   selfID,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// OnIncoming 注册来电回调，可注册多个
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// StartOutbound 为一通已发起的呼叫建立主叫侧会话。
// 媒体获取失败时本地收场，不向对端发任何信令，返回错误由上层提示用户。
func (m *Manager) StartOutbound(ctx context.Context, callID string, calleeID uint64, kind string) (*Session, error) {
	sess, err := newSession(callID, calleeID, kind, roleCaller, m.sig, m.media(), m.removeSession)
	if err != nil {
		return nil, err
	}
	m.track(sess)
	log.Info("outbound call session started", "call_id", callID, "callee", calleeID, "kind", kind)
	return sess, nil
}

// GetSession 返回 callID 对应的活跃会话
func (m *Manager) GetSession(callID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	return s, ok
}

// Close 挂断所有会话并停止事件消费
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}
}

func (m *Manager) track(s *Session) {
	m.mu.Lock()
	m.sessions[s.callID] = s
	m.mu.Unlock()
}

func (m *Manager) removeSession(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev ServerEvent) {
	switch ev.Event {
	case realtime.EventCallIncoming:
		var p realtime.CallIncomingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Warn("bad call:incoming payload", "err", err)
			return
		}
		m.handleIncoming(&p)
	case realtime.EventCallAccepted:
		var p realtime.CallAcceptedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Warn("bad call:accepted payload", "err", err)
			return
		}
		m.handleAccepted(p.CallID)
	case realtime.EventCallEnded:
		var p realtime.CallEndedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Warn("bad call:ended payload", "err", err)
			return
		}
		if s, ok := m.GetSession(p.CallID); ok {
			s.endLocal(p.Reason)
		}
	case realtime.EventCallSignal:
		var p realtime.CallSignalPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Warn("bad call:signal payload", "err", err)
			return
		}
		if s, ok := m.GetSession(p.CallID); ok {
			s.handleSignal(p.Payload)
		}
	}
}

// handleIncoming 先回 ack 表示设备可达，再交给上层决定接听或拒绝
func (m *Manager) handleIncoming(p *realtime.CallIncomingPayload) {
	if err := m.sig.Ack(p.CallID); err != nil {
		log.Warn("call ack failed", "call_id", p.CallID, "err", err)
	}

	ic := &IncomingCall{
		CallID: p.CallID,
		From:   p.From,
		Kind:   p.Kind,
		Accept: func(ctx context.Context) (*Session, error) {
			sess, err := newSession(p.CallID, p.From, p.Kind, roleCallee, m.sig, m.media(), m.removeSession)
			if err != nil {
				// 媒体没拿到，接听动作从未发出，主叫侧照常等待超时或取消
				return nil, err
			}
			if err := m.sig.Accept(p.CallID); err != nil {
				sess.endLocal("accept_failed")
				return nil, err
			}
			m.track(sess)
			return sess, nil
		},
		Reject: func() error {
			return m.sig.Reject(p.CallID)
		},
	}

	m.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(ic)
	}
}

// handleAccepted 对方已接听，主叫侧开始 SDP 协商
func (m *Manager) handleAccepted(callID string) {
	s, ok := m.GetSession(callID)
	if !ok {
		return
	}
	if err := s.startOffer(); err != nil {
		log.Warn("start offer failed", "call_id", callID, "err", err)
		s.Hangup()
	}
}
