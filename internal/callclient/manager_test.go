package callclient

import (
	"Meetstreet/internal/realtime"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

type signalRecord struct {
	callID  string
	payload []byte
}

type stubSignaler struct {
	mu         sync.Mutex
	acks       []string
	accepts    []string
	rejects    []string
	terminates []string
	signals    []signalRecord

	ch chan ServerEvent
}

func newStubSignaler() *stubSignaler {
	return &stubSignaler{ch: make(chan ServerEvent, 16)}
}

func (s *stubSignaler) Ack(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, callID)
	return nil
}

func (s *stubSignaler) Accept(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepts = append(s.accepts, callID)
	return nil
}

func (s *stubSignaler) Reject(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = append(s.rejects, callID)
	return nil
}

func (s *stubSignaler) Terminate(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminates = append(s.terminates, callID)
	return nil
}

func (s *stubSignaler) Signal(callID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signalRecord{callID: callID, payload: payload})
	return nil
}

func (s *stubSignaler) Subscribe() (<-chan ServerEvent, func()) {
	return s.ch, func() {}
}

func (s *stubSignaler) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	s.ch <- ServerEvent{Event: event, Data: data}
}

func (s *stubSignaler) counts() (acks, accepts, rejects, terminates, signals int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks), len(s.accepts), len(s.rejects), len(s.terminates), len(s.signals)
}

func (s *stubSignaler) signalTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, rec := range s.signals {
		var msg signalMessage
		if err := json.Unmarshal(rec.payload, &msg); err == nil {
			types = append(types, msg.Type)
		}
	}
	return types
}

// stubMedia 不发布任何轨道的采集器
type stubMedia struct {
	mu     sync.Mutex
	err    error
	tracks []webrtc.TrackLocal
	closed bool
}

func (m *stubMedia) Tracks(string) ([]webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.tracks, nil
}

func (m *stubMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func mediaFactory(m *stubMedia) func() MediaSource {
	return func() MediaSource { return m }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestIncomingCallAcksDevice(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 2)
	defer m.Close()

	var mu sync.Mutex
	var got *IncomingCall
	m.OnIncoming(func(ic *IncomingCall) {
		mu.Lock()
		got = ic
		mu.Unlock()
	})

	sig.push(t, realtime.EventCallIncoming, realtime.CallIncomingPayload{CallID: "c1", From: 1, Kind: "voice"})

	waitFor(t, "incoming callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})

	// 设备可达确认先于用户决定发出
	acks, accepts, _, _, _ := sig.counts()
	if acks != 1 {
		t.Errorf("ack count = %d, want 1", acks)
	}
	if accepts != 0 {
		t.Error("accept must wait for the user")
	}
	if got.CallID != "c1" || got.From != 1 || got.Kind != "voice" {
		t.Errorf("incoming = %+v", got)
	}
}

func TestIncomingCallReject(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 2)
	defer m.Close()

	icCh := make(chan *IncomingCall, 1)
	m.OnIncoming(func(ic *IncomingCall) { icCh <- ic })
	sig.push(t, realtime.EventCallIncoming, realtime.CallIncomingPayload{CallID: "c1", From: 1, Kind: "voice"})

	ic := <-icCh
	if err := ic.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, accepts, rejects, _, _ := sig.counts()
	if rejects != 1 || accepts != 0 {
		t.Errorf("rejects=%d accepts=%d, want 1/0", rejects, accepts)
	}
	if _, ok := m.GetSession("c1"); ok {
		t.Error("rejected call must not leave a session behind")
	}
}

func TestAcceptCreatesSession(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 2)
	defer m.Close()

	icCh := make(chan *IncomingCall, 1)
	m.OnIncoming(func(ic *IncomingCall) { icCh <- ic })
	sig.push(t, realtime.EventCallIncoming, realtime.CallIncomingPayload{CallID: "c1", From: 1, Kind: "video"})

	ic := <-icCh
	sess, err := ic.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sess.CallID() != "c1" {
		t.Errorf("session call id = %s", sess.CallID())
	}
	_, accepts, _, _, _ := sig.counts()
	if accepts != 1 {
		t.Errorf("accept count = %d, want 1", accepts)
	}
	if _, ok := m.GetSession("c1"); !ok {
		t.Error("accepted session should be tracked")
	}
}

// 接听前媒体获取失败：本地收场，不向对端发接听或挂断
func TestMediaFailureBeforeConnectEndsLocally(t *testing.T) {
	sig := newStubSignaler()
	media := &stubMedia{err: errors.New("camera busy")}
	m := New(sig, mediaFactory(media), 2)
	defer m.Close()

	icCh := make(chan *IncomingCall, 1)
	m.OnIncoming(func(ic *IncomingCall) { icCh <- ic })
	sig.push(t, realtime.EventCallIncoming, realtime.CallIncomingPayload{CallID: "c1", From: 1, Kind: "video"})

	ic := <-icCh
	if _, err := ic.Accept(context.Background()); err == nil {
		t.Fatal("accept should surface the media error to the user")
	}

	_, accepts, _, terminates, _ := sig.counts()
	if accepts != 0 {
		t.Error("accept must not be sent when local media failed")
	}
	if terminates != 0 {
		t.Error("peer must not be notified before signaling reached connected")
	}
	if _, ok := m.GetSession("c1"); ok {
		t.Error("failed session must not be tracked")
	}
}

func TestOutboundMediaFailure(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{err: errors.New("mic busy")}), 1)
	defer m.Close()

	if _, err := m.StartOutbound(context.Background(), "c1", 2, "voice"); err == nil {
		t.Fatal("outbound start should fail on media error")
	}
	_, _, _, terminates, signals := sig.counts()
	if terminates != 0 || signals != 0 {
		t.Error("no signaling may leave the device on local media failure")
	}
}

// 对方接听后主叫开始协商：第一条信令是 offer
func TestAcceptedTriggersOffer(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 1)
	defer m.Close()

	if _, err := m.StartOutbound(context.Background(), "c1", 2, "voice"); err != nil {
		t.Fatalf("start outbound: %v", err)
	}
	sig.push(t, realtime.EventCallAccepted, realtime.CallAcceptedPayload{CallID: "c1"})

	waitFor(t, "offer signal", func() bool {
		for _, typ := range sig.signalTypes() {
			if typ == signalOffer {
				return true
			}
		}
		return false
	})
}

// 被叫收到 offer 后应答：回 answer
func TestOfferProducesAnswer(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 2)
	defer m.Close()

	icCh := make(chan *IncomingCall, 1)
	m.OnIncoming(func(ic *IncomingCall) { icCh <- ic })
	sig.push(t, realtime.EventCallIncoming, realtime.CallIncomingPayload{CallID: "c1", From: 1, Kind: "voice"})
	if _, err := (<-icCh).Accept(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 用真实 PeerConnection 生成一份合法 offer
	remote, err := newPeerConnection()
	if err != nil {
		t.Fatalf("remote pc: %v", err)
	}
	defer func() { _ = remote.Close() }()
	if _, err := remote.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatal(err)
	}
	offer, err := remote.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := remote.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local description: %v", err)
	}

	raw, _ := json.Marshal(&signalMessage{Type: signalOffer, SDP: &offer})
	sig.push(t, realtime.EventCallSignal, realtime.CallSignalPayload{CallID: "c1", From: 1, Payload: raw})

	waitFor(t, "answer signal", func() bool {
		for _, typ := range sig.signalTypes() {
			if typ == signalAnswer {
				return true
			}
		}
		return false
	})
}

func TestHangupIdempotent(t *testing.T) {
	sig := newStubSignaler()
	media := &stubMedia{}
	m := New(sig, mediaFactory(media), 1)
	defer m.Close()

	sess, err := m.StartOutbound(context.Background(), "c1", 2, "voice")
	if err != nil {
		t.Fatal(err)
	}

	sess.Hangup()
	sess.Hangup()
	sess.Hangup()

	_, _, _, terminates, _ := sig.counts()
	if terminates != 1 {
		t.Errorf("terminate count = %d, want 1", terminates)
	}
	if !media.isClosed() {
		t.Error("media source must be released on hangup")
	}
	if _, ok := m.GetSession("c1"); ok {
		t.Error("hung-up session must be untracked")
	}
}

// 服务端宣告通话结束：只做本地收尾，不回发任何信令
func TestCallEndedTearsDownSilently(t *testing.T) {
	sig := newStubSignaler()
	media := &stubMedia{}
	m := New(sig, mediaFactory(media), 1)
	defer m.Close()

	if _, err := m.StartOutbound(context.Background(), "c1", 2, "voice"); err != nil {
		t.Fatal(err)
	}
	sig.push(t, realtime.EventCallEnded, realtime.CallEndedPayload{CallID: "c1", Reason: "rejected"})

	waitFor(t, "session teardown", func() bool {
		_, ok := m.GetSession("c1")
		return !ok
	})
	_, _, _, terminates, _ := sig.counts()
	if terminates != 0 {
		t.Error("call:ended handling must not send terminate back")
	}
	if !media.isClosed() {
		t.Error("media source must be released")
	}
}

func TestToggleIsLocalOnly(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 1)
	defer m.Close()

	sess, err := m.StartOutbound(context.Background(), "c1", 2, "video")
	if err != nil {
		t.Fatal(err)
	}

	if muted := sess.ToggleAudio(); !muted {
		t.Error("first audio toggle should mute")
	}
	if muted := sess.ToggleAudio(); muted {
		t.Error("second audio toggle should unmute")
	}
	if disabled := sess.ToggleVideo(); !disabled {
		t.Error("first video toggle should disable")
	}

	// 本地开关不触碰信令状态机
	_, _, _, terminates, signals := sig.counts()
	if terminates != 0 {
		t.Error("toggles must not terminate the call")
	}
	if signals != 0 {
		t.Error("toggles must not emit signaling")
	}
}

func TestToggleDetachesLocalTrack(t *testing.T) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mic")
	if err != nil {
		t.Fatal(err)
	}

	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{tracks: []webrtc.TrackLocal{audio}}), 1)
	defer m.Close()

	sess, err := m.StartOutbound(context.Background(), "c1", 2, "voice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.senders) != 1 {
		t.Fatalf("senders = %d, want 1", len(sess.senders))
	}
	if sess.senders[0].sender.Track() == nil {
		t.Fatal("local track should start attached")
	}

	if muted := sess.ToggleAudio(); !muted {
		t.Error("first audio toggle should mute")
	}
	if sess.senders[0].sender.Track() != nil {
		t.Error("mute should detach the audio track from its sender")
	}

	if muted := sess.ToggleAudio(); muted {
		t.Error("second audio toggle should unmute")
	}
	if sess.senders[0].sender.Track() != audio {
		t.Error("unmute should reattach the original audio track")
	}

	// 纯语音通话没有视频轨，翻转摄像头只动本地标志
	if disabled := sess.ToggleVideo(); !disabled {
		t.Error("video toggle on a voice call should still report disabled")
	}
}

func TestManagerCloseHangsUpAll(t *testing.T) {
	sig := newStubSignaler()
	m := New(sig, mediaFactory(&stubMedia{}), 1)

	if _, err := m.StartOutbound(context.Background(), "c1", 2, "voice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartOutbound(context.Background(), "c2", 3, "voice"); err != nil {
		t.Fatal(err)
	}

	m.Close()
	m.Close()

	_, _, _, terminates, _ := sig.counts()
	if terminates != 2 {
		t.Errorf("terminate count = %d, want 2", terminates)
	}
}
