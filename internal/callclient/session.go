package callclient

import (
	log "log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

const (
	roleCaller = "caller"
	roleCallee = "callee"
)

// trackSender 本地轨道与承载它的 RTPSender
type trackSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Session 一次通话的客户端侧，持有 PeerConnection 并消费对端信令。
// 静音/关摄像头只翻转本地状态，不进入信令状态机；Hangup 可重复调用。
type Session struct {
	callID string
	peerID uint64
	kind   string
	role   string
	sig    Signaler
	media  MediaSource
	pc     *webrtc.PeerConnection

	// 本地轨道与其 sender，静音/关摄像头时整轨摘除
	senders []trackSender

	mu        sync.Mutex
	audioOn   bool
	videoOn   bool
	connected bool
	hung      bool

	// 远端描述未就绪前到達的候选先排队
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	onClose func(callID string)
}

// newSession 建链并发布本地媒体。媒体获取失败时直接返回错误，
// PeerConnection 就地关闭，不向对端发送任何信令。
func newSession(callID string, peerID uint64, kind, role string, sig Signaler, media MediaSource, onClose func(string)) (*Session, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}

	tracks, err := media.Tracks(kind)
	if err != nil {
		_ = pc.Close()
		return nil, errors.Wrap(err, "acquire local media")
	}
	senders := make([]trackSender, 0, len(tracks))
	for _, t := range tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			_ = pc.Close()
			_ = media.Close()
			return nil, errors.Wrap(err, "add local track")
		}
		senders = append(senders, trackSender{sender: sender, track: t})
	}

	s := &Session{
		callID:  callID,
		peerID:  peerID,
		kind:    kind,
		role:    role,
		sig:     sig,
		media:   media,
		pc:      pc,
		senders: senders,
		audioOn: true,
		videoOn: kind == "video",
		onClose: onClose,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.sendSignal(&signalMessage{Type: signalCandidate, Candidate: &init})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote track arrived", "call_id", s.callID, "kind", track.Kind().String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			log.Info("call media connected", "call_id", s.callID)
		case webrtc.PeerConnectionStateFailed:
			s.onTransportFailed()
		}
	})

	return s, nil
}

// newPeerConnection 默认编解码 + 默认拦截器 + 公共 STUN
func newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
}

func (s *Session) CallID() string { return s.callID }

// Connected 媒体通道是否已打通
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ToggleAudio 翻转本地静音，返回新的静音状态 (true = 已静音)
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	s.audioOn = !s.audioOn
	on := s.audioOn
	s.mu.Unlock()
	s.setTrackState(webrtc.RTPCodecTypeAudio, on)
	log.Info("call audio toggled", "call_id", s.callID, "muted", !on)
	return !on
}

// ToggleVideo 翻转本地摄像头，返回新的关闭状态 (true = 已关闭)
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	s.videoOn = !s.videoOn
	on := s.videoOn
	s.mu.Unlock()
	s.setTrackState(webrtc.RTPCodecTypeVideo, on)
	log.Info("call video toggled", "call_id", s.callID, "disabled", !on)
	return !on
}

// setTrackState 摘除或挂回对应类型的本地轨道，只影响本端发流
func (s *Session) setTrackState(kind webrtc.RTPCodecType, on bool) {
	for _, ts := range s.senders {
		if ts.track.Kind() != kind {
			continue
		}
		var next webrtc.TrackLocal
		if on {
			next = ts.track
		}
		if err := ts.sender.ReplaceTrack(next); err != nil {
			log.Warn("replace local track failed", "call_id", s.callID, "kind", kind.String(), "err", err)
		}
	}
}

// Hangup 结束通话并通知信令控制器，可重复调用
func (s *Session) Hangup() {
	if !s.markHung() {
		return
	}
	if err := s.sig.Terminate(s.callID); err != nil {
		log.Warn("terminate signal failed", "call_id", s.callID, "err", err)
	}
	s.teardown()
}

// endLocal 仅本地收尾，不向对端发送任何信令。
// 用于收到 call:ended 后的清理，及未接通前的媒体/传输故障。
func (s *Session) endLocal(reason string) {
	if !s.markHung() {
		return
	}
	log.Info("call ended locally", "call_id", s.callID, "reason", reason)
	s.teardown()
}

// onTransportFailed 接通后断流等价于挂断，接通前静默收场
func (s *Session) onTransportFailed() {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		s.Hangup()
		return
	}
	s.endLocal("transport_failed")
}

func (s *Session) markHung() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		return false
	}
	s.hung = true
	return true
}

func (s *Session) teardown() {
	if err := s.pc.Close(); err != nil {
		log.Warn("peer connection close failed", "call_id", s.callID, "err", err)
	}
	if err := s.media.Close(); err != nil {
		log.Warn("media source close failed", "call_id", s.callID, "err", err)
	}
	if s.onClose != nil {
		s.onClose(s.callID)
	}
}

// startOffer 主叫在对方接听后发起协商
func (s *Session) startOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local description")
	}
	s.sendSignal(&signalMessage{Type: signalOffer, SDP: &offer})
	return nil
}

// handleSignal 处理对端中继过来的一条协商载荷
func (s *Session) handleSignal(raw json.RawMessage) {
	var msg signalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn("bad signal payload", "call_id", s.callID, "err", err)
		return
	}
	switch msg.Type {
	case signalOffer:
		if msg.SDP == nil {
			return
		}
		if err := s.applyRemoteDescription(*msg.SDP); err != nil {
			log.Warn("apply offer failed", "call_id", s.callID, "err", err)
			return
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			log.Warn("create answer failed", "call_id", s.callID, "err", err)
			return
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			log.Warn("set local description failed", "call_id", s.callID, "err", err)
			return
		}
		s.sendSignal(&signalMessage{Type: signalAnswer, SDP: &answer})
	case signalAnswer:
		if msg.SDP == nil {
			return
		}
		if err := s.applyRemoteDescription(*msg.SDP); err != nil {
			log.Warn("apply answer failed", "call_id", s.callID, "err", err)
		}
	case signalCandidate:
		if msg.Candidate == nil {
			return
		}
		s.addCandidate(*msg.Candidate)
	default:
		log.Warn("unknown signal type", "call_id", s.callID, "type", msg.Type)
	}
}

func (s *Session) applyRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			log.Warn("add queued candidate failed", "call_id", s.callID, "err", err)
		}
	}
	return nil
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	if !s.remoteSet {
		s.pendingCandidates = append(s.pendingCandidates, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.pc.AddICECandidate(c); err != nil {
		log.Warn("add candidate failed", "call_id", s.callID, "err", err)
	}
}

func (s *Session) sendSignal(msg *signalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn("marshal signal failed", "call_id", s.callID, "err", err)
		return
	}
	if err := s.sig.Signal(s.callID, data); err != nil {
		log.Warn("relay signal failed", "call_id", s.callID, "type", msg.Type, "err", err)
	}
}
