package realtime

import (
	"Meetstreet/internal/pkg/consts"
	"strconv"
	"sync"
)

// Presence 在线注册表，进程级单例
// userID -> 当前连接的会话 ID 集合。一个用户可同时持有多条会话
// (多设备/多标签页)，最后一条会话断开时用户才算离线。
// 每次上下线都向 presence_<uid> 房间广播状态变更，尽力而为。
type Presence struct {
	mu       sync.RWMutex
	sessions map[uint64]map[string]struct{}

	router *Router
}

func NewPresence(router *Router) *Presence {
	return &Presence{
		sessions: make(map[uint64]map[string]struct{}),
		router:   router,
	}
}

// Connect 登记一条会话，返回用户是否由离线转为在线
func (p *Presence) Connect(userID uint64, sessionID string) bool {
	p.mu.Lock()
	if p.sessions[userID] == nil {
		p.sessions[userID] = make(map[string]struct{})
	}
	wasOffline := len(p.sessions[userID]) == 0
	p.sessions[userID][sessionID] = struct{}{}
	p.mu.Unlock()

	if wasOffline {
		p.broadcast(userID, true)
	}
	return wasOffline
}

// Disconnect 注销一条会话，返回用户是否因此离线
func (p *Presence) Disconnect(userID uint64, sessionID string) bool {
	p.mu.Lock()
	set, ok := p.sessions[userID]
	if ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(p.sessions, userID)
		}
	}
	nowOffline := ok && len(set) == 0
	p.mu.Unlock()

	if nowOffline {
		p.broadcast(userID, false)
	}
	return nowOffline
}

// IsOnline 用户是否至少有一条在线会话
func (p *Presence) IsOnline(userID uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions[userID]) > 0
}

// Sessions 用户当前的会话 ID 列表
func (p *Presence) Sessions(userID uint64) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.sessions[userID]))
	for id := range p.sessions[userID] {
		ids = append(ids, id)
	}
	return ids
}

func (p *Presence) broadcast(userID uint64, online bool) {
	p.router.Emit(consts.RoomPresencePrefix+strconv.FormatUint(userID, 10), &Event{
		Event: EventPresenceChanged,
		Data:  PresencePayload{UserID: userID, IsOnline: online},
	})
}
