package service

import (
	"Meetstreet/internal/api/dto"
	"Meetstreet/internal/pkg/kafka"
	"Meetstreet/internal/realtime"
	"Meetstreet/internal/repository"
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// 通话状态机：proposed → ringing → connected → ended，
// rejected/failed 仅从 proposed/ringing 可达，ended 也可由 ringing 直达 (主叫取消)。
const (
	CallStateProposed  = "proposed"
	CallStateRinging   = "ringing"
	CallStateConnected = "connected"
	CallStateEnded     = "ended"
	CallStateRejected  = "rejected"
	CallStateFailed    = "failed"
)

// 挂断原因
const (
	ReasonHangup       = "hangup"
	ReasonRejected     = "rejected"
	ReasonCancelled    = "cancelled"
	ReasonNoAnswer     = "no-answer"
	ReasonDisconnected = "disconnected"
)

// 终止态会话在内存中保留一段时间，让迟到的幂等挂断拿到 no-op 而非 404
const terminalRetention = time.Minute

// AuditPublisher 通话终局审计事件出口
type AuditPublisher interface {
	PublishCallAudit(evt *kafka.CallAudit) error
}

// CallService 通话信令控制器
// 每对参与者同一时刻至多一通非终止态通话；所有状态迁移都按当前
// 状态做检查后置位，从错误状态发起的迁移直接失败而不是静默覆盖。
type CallService interface {
	Initiate(ctx context.Context, callerID, calleeID uint64, kind string) (*dto.CallDTO, error)
	Ack(userID uint64, callID string) error
	Accept(userID uint64, callID string) error
	Reject(userID uint64, callID string) error
	Cancel(userID uint64, callID string) error
	Terminate(userID uint64, callID string) error
	Relay(userID uint64, callID string, payload json.RawMessage) error
	HandleDisconnect(userID uint64)
	Close()
}

// callSession 一次通话尝试的全部状态，仅存活于进程内存
type callSession struct {
	callID  string
	caller  uint64
	callee  uint64
	kind    string
	state   string
	pairKey string

	proposedAt  time.Time
	ringingAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	// ringTimer 响铃超时定时器。任何离开 proposed/ringing 的迁移都
	// 必须停掉它，防止超时在 callID 复用后误伤新通话。
	ringTimer *time.Timer
}

type callServiceImpl struct {
	mu         sync.Mutex
	calls      map[string]*callSession
	activePair map[string]string // pairKey -> callID，非终止态通话占位

	emitter     Emitter
	audit       AuditPublisher
	ringTimeout time.Duration
	closed      bool
}

func NewCallService(emitter Emitter, audit AuditPublisher, ringTimeout time.Duration) CallService {
	return &callServiceImpl{
		calls:       make(map[string]*callSession),
		activePair:  make(map[string]string),
		emitter:     emitter,
		audit:       audit,
		ringTimeout: ringTimeout,
	}
}

// Initiate 发起通话
// 同一对用户已有非终止态通话时拒绝；成功后向被叫用户房间推 call:incoming。
func (s *callServiceImpl) Initiate(ctx context.Context, callerID, calleeID uint64, kind string) (*dto.CallDTO, error) {
	if callerID == calleeID {
		return nil, ErrTargetUserInvalid
	}
	pairKey := repository.PeerKey(callerID, calleeID)

	s.mu.Lock()
	// 进程收尾后拒绝新呼叫，避免注册再也不会被清理的定时器
	if s.closed {
		s.mu.Unlock()
		return nil, UnExpectedError
	}
	if _, busy := s.activePair[pairKey]; busy {
		s.mu.Unlock()
		return nil, ErrCallAlreadyActive
	}

	call := &callSession{
		callID:     uuid.New().String(),
		caller:     callerID,
		callee:     calleeID,
		kind:       kind,
		state:      CallStateProposed,
		pairKey:    pairKey,
		proposedAt: time.Now(),
	}
	// 超时窗口从发起就开始计：被叫端一直不确认也不能让这对用户卡死
	call.ringTimer = time.AfterFunc(s.ringTimeout, func() {
		s.onRingTimeout(call.callID)
	})
	s.calls[call.callID] = call
	s.activePair[pairKey] = call.callID
	s.mu.Unlock()

	log.InfoContext(ctx, "call initiated",
		"call_id", call.callID, "caller", callerID, "callee", calleeID, "kind", kind)

	s.emitter.Emit(userRoom(calleeID), &realtime.Event{
		Event: realtime.EventCallIncoming,
		Data:  realtime.CallIncomingPayload{CallID: call.callID, From: callerID, Kind: kind},
	})

	return &dto.CallDTO{
		CallID: call.callID,
		Caller: callerID,
		Callee: calleeID,
		Kind:   kind,
		State:  call.state,
	}, nil
}

// Ack 被叫端确认收到来电：proposed → ringing
// 多设备重复确认是空操作。
func (s *callServiceImpl) Ack(userID uint64, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(callID, userID)
	if err != nil {
		return err
	}
	if call.callee != userID {
		return ErrCallNotParticipant
	}

	switch call.state {
	case CallStateProposed:
		call.state = CallStateRinging
		call.ringingAt = time.Now()
		return nil
	case CallStateRinging:
		return nil
	default:
		return ErrCallStateConflict
	}
}

// Accept 被叫接听：ringing → connected
func (s *callServiceImpl) Accept(userID uint64, callID string) error {
	s.mu.Lock()
	call, err := s.getLocked(callID, userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if call.callee != userID {
		s.mu.Unlock()
		return ErrCallNotParticipant
	}
	if call.state != CallStateRinging {
		s.mu.Unlock()
		return ErrCallStateConflict
	}

	call.state = CallStateConnected
	call.connectedAt = time.Now()
	call.ringTimer.Stop()
	caller := call.caller
	s.mu.Unlock()

	s.emitter.Emit(userRoom(caller), &realtime.Event{
		Event: realtime.EventCallAccepted,
		Data:  realtime.CallAcceptedPayload{CallID: callID},
	})
	return nil
}

// Reject 被叫拒接：proposed/ringing → rejected
func (s *callServiceImpl) Reject(userID uint64, callID string) error {
	return s.endFromPreConnect(userID, callID, false)
}

// Cancel 主叫在接听前撤回：proposed/ringing → ended
func (s *callServiceImpl) Cancel(userID uint64, callID string) error {
	return s.endFromPreConnect(userID, callID, true)
}

// endFromPreConnect 接通前的单方终止，byCaller 区分取消与拒接
func (s *callServiceImpl) endFromPreConnect(userID uint64, callID string, byCaller bool) error {
	s.mu.Lock()
	call, err := s.getLocked(callID, userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if byCaller && call.caller != userID {
		s.mu.Unlock()
		return ErrCallNotParticipant
	}
	if !byCaller && call.callee != userID {
		s.mu.Unlock()
		return ErrCallNotParticipant
	}
	if call.state != CallStateProposed && call.state != CallStateRinging {
		s.mu.Unlock()
		return ErrCallStateConflict
	}

	reason, finalState, notify := ReasonRejected, CallStateRejected, call.caller
	if byCaller {
		reason, finalState, notify = ReasonCancelled, CallStateEnded, call.callee
	}
	s.finishLocked(call, finalState)
	s.mu.Unlock()

	s.emitter.Emit(userRoom(notify), &realtime.Event{
		Event: realtime.EventCallEnded,
		Data:  realtime.CallEndedPayload{CallID: callID, Reason: reason},
	})
	s.publishAudit(call, reason)
	return nil
}

// Terminate 接通后任意一方挂断：connected → ended
// 对已终止的会话再次挂断是空操作，不报错也不重复推事件。
func (s *callServiceImpl) Terminate(userID uint64, callID string) error {
	s.mu.Lock()
	call, err := s.getLocked(callID, userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if isTerminal(call.state) {
		s.mu.Unlock()
		return nil
	}
	if call.state != CallStateConnected {
		s.mu.Unlock()
		return ErrCallStateConflict
	}

	s.finishLocked(call, CallStateEnded)
	other := call.peerOf(userID)
	s.mu.Unlock()

	s.emitter.Emit(userRoom(other), &realtime.Event{
		Event: realtime.EventCallEnded,
		Data:  realtime.CallEndedPayload{CallID: callID, Reason: ReasonHangup},
	})
	s.publishAudit(call, ReasonHangup)
	return nil
}

// Relay 盲转信令内容 (SDP/ICE 等协商数据) 给通话对端
// 控制器不解析 payload，终止态的通话不再转发。
func (s *callServiceImpl) Relay(userID uint64, callID string, payload json.RawMessage) error {
	s.mu.Lock()
	call, err := s.getLocked(callID, userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if isTerminal(call.state) {
		s.mu.Unlock()
		return ErrCallStateConflict
	}
	other := call.peerOf(userID)
	s.mu.Unlock()

	s.emitter.Emit(userRoom(other), &realtime.Event{
		Event: realtime.EventCallSignal,
		Data:  realtime.CallSignalPayload{CallID: callID, From: userID, Payload: payload},
	})
	return nil
}

// HandleDisconnect 参与者最后一条会话断开时的隐式终止
// 响铃中视为取消/拒接，接通中视为挂断，避免对端守着已成孤儿的通话。
func (s *callServiceImpl) HandleDisconnect(userID uint64) {
	s.mu.Lock()
	var affected []*callSession
	for _, call := range s.calls {
		if isTerminal(call.state) {
			continue
		}
		if call.caller == userID || call.callee == userID {
			affected = append(affected, call)
		}
	}
	for _, call := range affected {
		// 接通前掉线走 failed (故障恢复)，接通后掉线等价于挂断
		if call.state == CallStateConnected {
			s.finishLocked(call, CallStateEnded)
		} else {
			s.finishLocked(call, CallStateFailed)
		}
	}
	s.mu.Unlock()

	for _, call := range affected {
		s.emitter.Emit(userRoom(call.peerOf(userID)), &realtime.Event{
			Event: realtime.EventCallEnded,
			Data:  realtime.CallEndedPayload{CallID: call.callID, Reason: ReasonDisconnected},
		})
		s.publishAudit(call, ReasonDisconnected)
		log.Info("call ended by participant disconnect",
			"call_id", call.callID, "user_id", userID)
	}
}

// onRingTimeout 响铃超时：双方都收到 no-answer，callID 可立刻复用发起新通话
func (s *callServiceImpl) onRingTimeout(callID string) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	// 定时器停止与触发存在竞窗，这里按当前状态再判一次
	if !ok || (call.state != CallStateProposed && call.state != CallStateRinging) {
		s.mu.Unlock()
		return
	}
	s.finishLocked(call, CallStateEnded)
	s.mu.Unlock()

	for _, uid := range []uint64{call.caller, call.callee} {
		s.emitter.Emit(userRoom(uid), &realtime.Event{
			Event: realtime.EventCallEnded,
			Data:  realtime.CallEndedPayload{CallID: callID, Reason: ReasonNoAnswer},
		})
	}
	s.publishAudit(call, ReasonNoAnswer)
	log.Info("call timed out with no answer", "call_id", callID)
}

// Close 停掉所有在途定时器
func (s *callServiceImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, call := range s.calls {
		if call.ringTimer != nil {
			call.ringTimer.Stop()
		}
	}
}

// finishLocked 进入终止态：停定时器、释放参与者对、延迟清理会话记录
func (s *callServiceImpl) finishLocked(call *callSession, state string) {
	call.state = state
	call.endedAt = time.Now()
	if call.ringTimer != nil {
		call.ringTimer.Stop()
	}
	delete(s.activePair, call.pairKey)

	callID := call.callID
	time.AfterFunc(terminalRetention, func() {
		s.mu.Lock()
		if c, ok := s.calls[callID]; ok && isTerminal(c.state) {
			delete(s.calls, callID)
		}
		s.mu.Unlock()
	})
}

// getLocked 查会话并校验调用者是参与者之一
func (s *callServiceImpl) getLocked(callID string, userID uint64) (*callSession, error) {
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	if call.caller != userID && call.callee != userID {
		return nil, ErrCallNotParticipant
	}
	return call, nil
}

func (s *callServiceImpl) publishAudit(call *callSession, reason string) {
	if s.audit == nil {
		return
	}
	evt := &kafka.CallAudit{
		CallID:      call.callID,
		Caller:      call.caller,
		Callee:      call.callee,
		Kind:        call.kind,
		FinalState:  call.state,
		Reason:      reason,
		ProposedAt:  call.proposedAt,
		RingingAt:   call.ringingAt,
		ConnectedAt: call.connectedAt,
		EndedAt:     call.endedAt,
	}
	if err := s.audit.PublishCallAudit(evt); err != nil {
		log.Error("call audit publish failed", "call_id", call.callID, "err", err)
	}
}

func (c *callSession) peerOf(userID uint64) uint64 {
	if c.caller == userID {
		return c.callee
	}
	return c.caller
}

func isTerminal(state string) bool {
	return state == CallStateEnded || state == CallStateRejected || state == CallStateFailed
}
