package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"casechat/internal/domain"
)

// ChatWindow is what a screen gets back from LoadChatMessages. An empty
// RoomID means the case has no resolvable room yet.
type ChatWindow struct {
	RoomID     string            `json:"room_id"`
	Messages   []*domain.Message `json:"messages"`
	HasMore    bool              `json:"has_more"`
	TotalCount int               `json:"total_count"`
}

// Session is the optimistic send coordinator for one active conversation
// screen. It owns the in-memory ordered message list; every mutation flows
// through the merge engine so the ordering and dedup invariants hold no
// matter how sends, live deliveries, and pagination interleave. Only one room
// subscription is active at a time: subscribing to a new room tears the
// previous listener down first.
type Session struct {
	svc *Service

	mu            sync.Mutex
	currentRoomID string
	unsubscribe   func()
	list          []*domain.Message
	onUpdate      func([]*domain.Message)
}

// NewSession spawns a coordinator bound to this service's stores.
func (s *Service) NewSession() *Session {
	return &Session{svc: s}
}

// OnUpdate registers a callback invoked with a snapshot after every change to
// the message list.
func (sess *Session) OnUpdate(fn func([]*domain.Message)) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.onUpdate = fn
}

// Messages returns a snapshot of the current ordered list.
func (sess *Session) Messages() []*domain.Message {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]*domain.Message, len(sess.list))
	copy(out, sess.list)
	return out
}

// RoomID returns the room the session is currently attached to.
func (sess *Session) RoomID() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.currentRoomID
}

// LoadChatMessages resolves the case's room and loads the initial window into
// the session. An unresolvable room yields an empty window with RoomID "",
// never an error the UI has to special-case.
func (sess *Session) LoadChatMessages(ctx context.Context, caseID, clientID, agentID string) *ChatWindow {
	roomID, err := sess.svc.Resolver.ResolveRoomForCase(ctx, caseID, clientID, agentID)
	if err != nil {
		return &ChatWindow{Messages: []*domain.Message{}}
	}

	w := sess.svc.Log.LoadInitial(ctx, roomID, sess.svc.InitialWindowSize)

	sess.mu.Lock()
	sess.currentRoomID = roomID
	sess.list = MergeAll(nil, w.Messages, sess.svc.DedupeWindow)
	snapshot := sess.snapshotLocked()
	sess.mu.Unlock()

	return &ChatWindow{
		RoomID:     roomID,
		Messages:   snapshot,
		HasMore:    w.HasMore,
		TotalCount: w.TotalCount,
	}
}

// LoadOlderChatMessages pages backwards from before and merges the older
// window into the session list. Returns the updated snapshot and whether more
// history remains.
func (sess *Session) LoadOlderChatMessages(ctx context.Context, caseID string, before int64, clientID, agentID string) ([]*domain.Message, bool) {
	roomID, err := sess.svc.Resolver.ResolveRoomForCase(ctx, caseID, clientID, agentID)
	if err != nil {
		return sess.Messages(), false
	}

	w := sess.svc.Log.LoadOlder(ctx, roomID, before, sess.svc.OlderPageSize)

	sess.mu.Lock()
	sess.list = MergeAll(sess.list, w.Messages, sess.svc.DedupeWindow)
	snapshot := sess.snapshotLocked()
	fn := sess.onUpdate
	sess.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return snapshot, w.HasMore
}

// SendChatMessage appends a message optimistically: the list carries a
// pending entry with a generated tempId before any store round trip. On store
// failure the entry flips to failed and stays in the list so the caller can
// retry by sending again; no write reaches the log. Sending to an
// unresolvable room aborts with false.
func (sess *Session) SendChatMessage(ctx context.Context, in SendInput) bool {
	if in.Content == "" && len(in.Attachments) == 0 {
		return false
	}

	roomID, err := sess.svc.ResolveOrCreateRoom(ctx, in)
	if err != nil {
		log.Printf("chat: send to case %s: %v", in.CaseID, err)
		return false
	}

	optimistic := &domain.Message{
		TempID:      "temp-" + uuid.NewString(),
		CaseID:      in.CaseID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		SenderRole:  in.SenderRole,
		Content:     in.Content,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: in.Attachments,
		Status:      domain.StatusPending,
	}
	sess.merge(optimistic)

	confirmed, err := sess.svc.Deliver(ctx, roomID, optimistic)
	if err != nil {
		log.Printf("chat: deliver to room %s: %v", roomID, err)
		failed := *optimistic
		failed.Status = domain.StatusFailed
		sess.merge(&failed)
		return false
	}

	// Carry the tempId so the merge engine reconciles the pending entry by
	// exact match; the live subscription may race in with the same message
	// first, which the merge absorbs.
	confirmed.TempID = optimistic.TempID
	sess.merge(confirmed)
	return true
}

// SubscribeToChatMessages attaches the session's single live listener to
// roomID. A previous subscription, if any, is torn down first; concurrent
// listeners on two rooms are not supported. Incoming entries are merged into
// the list and forwarded to onNew. The returned function unsubscribes.
func (sess *Session) SubscribeToChatMessages(ctx context.Context, roomID string, onNew func(*domain.Message), since int64) (func(), error) {
	sess.mu.Lock()
	if sess.unsubscribe != nil {
		sess.unsubscribe()
		sess.unsubscribe = nil
	}
	sess.currentRoomID = roomID
	sess.mu.Unlock()

	unsub, err := sess.svc.Log.Subscribe(ctx, roomID, func(m *domain.Message) {
		sess.merge(m)
		if onNew != nil {
			onNew(m)
		}
	}, since)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.unsubscribe = unsub
	sess.mu.Unlock()

	return func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.unsubscribe != nil {
			sess.unsubscribe()
			sess.unsubscribe = nil
		}
	}, nil
}

// MarkChatAsRead marks the room read for userID and reflects the flips in the
// local list.
func (sess *Session) MarkChatAsRead(ctx context.Context, roomID, userID string) error {
	if err := sess.svc.Reads.MarkRoomRead(ctx, roomID, userID); err != nil {
		return err
	}

	sess.mu.Lock()
	for _, m := range sess.list {
		if m.SenderID != userID {
			m.IsRead = true
		}
	}
	snapshot := sess.snapshotLocked()
	fn := sess.onUpdate
	sess.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return nil
}

// Stop tears down the live subscription, if any.
func (sess *Session) Stop() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.unsubscribe != nil {
		sess.unsubscribe()
		sess.unsubscribe = nil
	}
	sess.currentRoomID = ""
}

func (sess *Session) merge(m *domain.Message) {
	sess.mu.Lock()
	sess.list = MergeMessage(sess.list, m, sess.svc.DedupeWindow)
	snapshot := sess.snapshotLocked()
	fn := sess.onUpdate
	sess.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (sess *Session) snapshotLocked() []*domain.Message {
	out := make([]*domain.Message, len(sess.list))
	copy(out, sess.list)
	return out
}
