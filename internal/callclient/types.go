package callclient

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

// Signaler 是客户端通话核心对信令层的唯一依赖。
// 具体实现由接入层提供 (WS 事件上行 + REST 调用)，本包不感知传输细节。
type Signaler interface {
	// Ack 上报 call:ack，表示来电已送达本设备
	Ack(callID string) error
	Accept(callID string) error
	Reject(callID string) error
	Terminate(callID string) error
	// Signal 中继一条不透明协商载荷 (SDP/ICE)
	Signal(callID string, payload []byte) error
	// Subscribe 返回服务端下行事件流，cancel 后通道关闭
	Subscribe() (<-chan ServerEvent, func())
}

// ServerEvent 服务端下行事件，Data 延迟解码
type ServerEvent struct {
	Event string
	Data  json.RawMessage
}

// MediaSource 本地媒体采集入口，获取失败由会话按连接状态处理
type MediaSource interface {
	// Tracks 按通话类型返回要发布的本地轨道 (voice 只含音频)
	Tracks(kind string) ([]webrtc.TrackLocal, error)
	Close() error
}

// IncomingCall 一次待处理的来电，Accept/Reject 二选一
type IncomingCall struct {
	CallID string
	From   uint64
	Kind   string

	Accept func(ctx context.Context) (*Session, error)
	Reject func() error
}

// signalMessage 在 call:signal 载荷里承载的协商内容
type signalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)
