package service

import (
	"Meetstreet/internal/model"
	pkgmongo "Meetstreet/internal/pkg/mongo"
	"Meetstreet/internal/realtime"
	"Meetstreet/internal/repository"
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// 内存版会话仓储，语义对齐 MySQL 实现：
// peer_key 唯一、发号单调、persist 失败回滚聚合更新。
type fakeConvRepo struct {
	mu      sync.Mutex
	nextID  uint64
	byKey   map[string]*model.Conversation
	byID    map[uint64]*model.Conversation
	members map[uint64]map[uint64]*model.ConversationMember
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byKey:   make(map[string]*model.Conversation),
		byID:    make(map[uint64]*model.Conversation),
		members: make(map[uint64]map[uint64]*model.ConversationMember),
	}
}

func (f *fakeConvRepo) FindOrCreate(_ context.Context, userA, userB uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := repository.PeerKey(userA, userB)
	if conv, ok := f.byKey[key]; ok {
		return conv, nil
	}
	f.nextID++
	conv := &model.Conversation{ID: f.nextID, PeerKey: key, LastMessageAt: time.Now()}
	f.byKey[key] = conv
	f.byID[conv.ID] = conv
	f.members[conv.ID] = map[uint64]*model.ConversationMember{
		userA: {ConversationID: conv.ID, UserID: userA, JoinedAt: time.Now()},
		userB: {ConversationID: conv.ID, UserID: userB, JoinedAt: time.Now()},
	}
	return conv, nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return conv, nil
}

func (f *fakeConvRepo) IsMember(_ context.Context, convID uint64, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[convID][userID]
	return ok, nil
}

func (f *fakeConvRepo) AppendMessage(_ context.Context, convID uint64, senderID, receiverID uint64,
	preview, msgType string, persist func(seq uint64) (string, error)) (uint64, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.byID[convID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}

	seq := conv.MaxMsgSeq + 1
	msgID, err := persist(seq)
	if err != nil {
		// 明细落库失败，聚合不留半截更新
		return 0, err
	}

	conv.MaxMsgSeq = seq
	conv.LastMessageID = msgID
	conv.LastMsgPreview = preview
	conv.LastMsgType = msgType
	conv.LastSenderID = senderID
	conv.LastMessageAt = time.Now()
	if m, ok := f.members[convID][receiverID]; ok {
		m.UnreadCount++
	}
	for _, m := range f.members[convID] {
		m.IsArchived = 0
	}
	return seq, nil
}

func (f *fakeConvRepo) MarkRead(_ context.Context, convID, readerID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][readerID]; ok {
		m.UnreadCount = 0
	}
	return nil
}

func (f *fakeConvRepo) SetArchived(_ context.Context, convID, userID uint64, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		m.IsArchived = 0
		if archived {
			m.IsArchived = 1
		}
	}
	return nil
}

func (f *fakeConvRepo) SetMuted(_ context.Context, convID, userID uint64, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		m.IsMuted = 0
		if muted {
			m.IsMuted = 1
		}
	}
	return nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, userID uint64) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.ConversationMember
	for convID, byUser := range f.members {
		if m, ok := byUser[userID]; ok && m.IsArchived == 0 {
			cp := *m
			cp.Conversation = *f.byID[convID]
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (f *fakeConvRepo) GetAllMembers(_ context.Context) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.ConversationMember
	for _, byUser := range f.members {
		for _, m := range byUser {
			res = append(res, m)
		}
	}
	return res, nil
}

func (f *fakeConvRepo) SetUnreadCount(_ context.Context, convID, userID, count uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		m.UnreadCount = count
	}
	return nil
}

func (f *fakeConvRepo) unread(convID, userID uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		return m.UnreadCount
	}
	return 0
}

func (f *fakeConvRepo) conversationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

// 内存版消息明细仓储
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []*pkgmongo.Message
	saveErr  error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *pkgmongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	msg.ID = primitive.NewObjectID()
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, convID uint64, viewerID uint64, lastSeq uint64, pageSize int) ([]*pkgmongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*pkgmongo.Message
	for i := len(f.messages) - 1; i >= 0 && len(res) < pageSize; i-- {
		m := f.messages[i]
		if m.ConversationID != convID {
			continue
		}
		if lastSeq > 0 && m.Seq >= lastSeq {
			continue
		}
		if containsUser(m.DeletedBy, viewerID) {
			continue
		}
		cp := *m
		res = append(res, &cp)
	}
	return res, nil
}

func (f *fakeMessageRepo) MarkDelivered(_ context.Context, convID uint64, receiverID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, m := range f.messages {
		if m.ConversationID == convID && m.ReceiverID == receiverID && !m.Delivered {
			m.Delivered = true
			m.DeliveredAt = &now
		}
	}
	return nil
}

func (f *fakeMessageRepo) MarkRead(ctx context.Context, convID uint64, readerID uint64) error {
	if err := f.MarkDelivered(ctx, convID, readerID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, m := range f.messages {
		if m.ConversationID == convID && m.ReceiverID == readerID && !m.Read {
			m.Read = true
			m.ReadAt = &now
		}
	}
	return nil
}

func (f *fakeMessageRepo) SoftDelete(_ context.Context, msgID primitive.ObjectID, userID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == msgID {
			if !containsUser(m.DeletedBy, userID) {
				m.DeletedBy = append(m.DeletedBy, userID)
			}
			m.IsDeleted = true
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, msgID primitive.ObjectID) (*pkgmongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == msgID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMessageRepo) CountUnread(_ context.Context, convID uint64, receiverID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.messages {
		if m.ConversationID == convID && m.ReceiverID == receiverID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessageRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func containsUser(ids []uint64, userID uint64) bool {
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

// 记录型事件出口
type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

type emittedEvent struct {
	room string
	evt  *realtime.Event
}

func (f *fakeEmitter) Emit(room string, evt *realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{room: room, evt: evt})
}

func (f *fakeEmitter) eventsFor(room string) []*realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*realtime.Event
	for _, e := range f.events {
		if e.room == room {
			res = append(res, e.evt)
		}
	}
	return res
}

func (f *fakeEmitter) countByEvent(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.evt.Event == name {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu     sync.Mutex
	online map[uint64]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[uint64]bool)}
}

func (f *fakePresence) set(userID uint64, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = v
}

func (f *fakePresence) IsOnline(userID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

// 内存版幂等键存储，语义对齐 Redis SetNX 实现
type fakeIdemStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{keys: make(map[string]string)}
}

func (f *fakeIdemStore) Begin(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.keys[key]; ok {
		return v, false, nil
	}
	f.keys[key] = "pending"
	return "", true, nil
}

func (f *fakeIdemStore) Commit(_ context.Context, key string, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = msgID
	return nil
}

func (f *fakeIdemStore) Abort(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}
