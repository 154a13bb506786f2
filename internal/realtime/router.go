package realtime

import (
	log "log/slog"
	"sync"
)

// Router 房间路由器，进程级单例
// 维护会话与逻辑投递房间的订阅关系，Emit 把事件发给且仅发给
// 当前订阅该房间的会话：不落盘、不重试、离线即错过。
type Router struct {
	mu           sync.RWMutex
	rooms        map[string]map[*Session]struct{}
	sessionRooms map[*Session]map[string]struct{}
}

func NewRouter() *Router {
	return &Router{
		rooms:        make(map[string]map[*Session]struct{}),
		sessionRooms: make(map[*Session]map[string]struct{}),
	}
}

// Join 会话订阅房间，重复订阅是空操作
func (r *Router) Join(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Session]struct{})
	}
	r.rooms[room][s] = struct{}{}

	if r.sessionRooms[s] == nil {
		r.sessionRooms[s] = make(map[string]struct{})
	}
	r.sessionRooms[s][room] = struct{}{}
}

// Leave 会话退订房间
func (r *Router) Leave(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s, room)
}

// LeaveAll 会话断开时清理其全部订阅
func (r *Router) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.sessionRooms[s] {
		r.leaveLocked(s, room)
	}
}

func (r *Router) leaveLocked(s *Session, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.sessionRooms[s]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.sessionRooms, s)
		}
	}
}

// RoomSize 当前订阅数，主要供测试与日志观察
func (r *Router) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Emit 向房间内所有会话扇出事件
// 对单个会话的投递是非阻塞的，慢连接只影响它自己。
// 房间为空 (接收方不在线) 不算错误，上层按尽力而为处理。
func (r *Router) Emit(room string, evt *Event) {
	data, err := evt.Encode()
	if err != nil {
		log.Error("realtime event encode failed", "event", evt.Event, "err", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Session, 0, len(r.rooms[room]))
	for s := range r.rooms[room] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.Deliver(data)
	}
}
