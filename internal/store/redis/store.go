// Package redis implements the backing-store interfaces on Redis: per-room
// sorted-set timelines with hash-stored message bodies, pub/sub push
// channels, and plain keys for metadata and presence ephemera.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"casechat/internal/domain"
)

const availabilityProbeTimeout = 2 * time.Second

// Store holds the Redis client plus the disconnect-compensation registry.
// It implements domain.MessageStore, domain.RoomStore and
// domain.PresenceStore.
type Store struct {
	client *redis.Client

	mu          sync.Mutex
	disconnects map[int64]func(ctx context.Context)
	nextHookID  int64
}

// Open connects to Redis and verifies reachability.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client:      client,
		disconnects: make(map[int64]func(ctx context.Context)),
	}
}

// Close runs the registered disconnect compensations, then closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	hooks := make([]func(ctx context.Context), 0, len(s.disconnects))
	for _, fn := range s.disconnects {
		hooks = append(hooks, fn)
	}
	s.disconnects = make(map[int64]func(ctx context.Context))
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, fn := range hooks {
		fn(ctx)
	}
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Available reports reachability with a short probe.
func (s *Store) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityProbeTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// ── keys ─────────────────────────────────────────────────────────────────────

func timelineKey(roomID string) string  { return "chat:room:" + roomID + ":timeline" }
func messagesKey(roomID string) string  { return "chat:room:" + roomID + ":messages" }
func metaKey(roomID string) string      { return "chat:room:" + roomID + ":meta" }
func roomChannel(roomID string) string  { return "chat:room:" + roomID + ":events" }
func userRoomsKey(userID string) string { return "chat:user:" + userID + ":rooms" }
func userChannel(userID string) string  { return "chat:user:" + userID + ":events" }
func presenceKey(userID string) string  { return "presence:user:" + userID }
func typingKey(roomID string) string    { return "chat:room:" + roomID + ":typing" }

// ── MessageStore ─────────────────────────────────────────────────────────────

var _ domain.MessageStore = (*Store)(nil)

func (s *Store) Append(ctx context.Context, roomID string, m *domain.Message) (string, error) {
	id := ulid.Make().String()

	persisted := *m
	persisted.ID = id
	// Client-local fields never reach the log.
	persisted.TempID = ""
	persisted.Status = ""

	data, err := json.Marshal(&persisted)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, timelineKey(roomID), redis.Z{
		Score:  float64(persisted.Timestamp),
		Member: id,
	})
	pipe.HSet(ctx, messagesKey(roomID), id, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	if err := s.client.Publish(ctx, roomChannel(roomID), data).Err(); err != nil {
		log.Printf("redis: publish message to %s: %v", roomID, err)
	}
	return id, nil
}

func (s *Store) ListLatest(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	ids, err := s.client.ZRevRange(ctx, timelineKey(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		// Ordered reads can fail where the timeline index is unusable;
		// recover with an unordered bounded scan sorted client-side.
		return s.scanFallback(ctx, roomID, 0, limit, err)
	}
	reverse(ids)
	return s.fetchByID(ctx, roomID, ids)
}

func (s *Store) ListBefore(ctx context.Context, roomID string, before int64, limit int) ([]*domain.Message, error) {
	ids, err := s.client.ZRevRangeByScore(ctx, timelineKey(roomID), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "(" + strconv.FormatInt(before, 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return s.scanFallback(ctx, roomID, before, limit, err)
	}
	reverse(ids)
	return s.fetchByID(ctx, roomID, ids)
}

func (s *Store) ListAll(ctx context.Context, roomID string) ([]*domain.Message, error) {
	ids, err := s.client.ZRange(ctx, timelineKey(roomID), 0, -1).Result()
	if err != nil {
		return s.scanFallback(ctx, roomID, 0, 0, err)
	}
	return s.fetchByID(ctx, roomID, ids)
}

func (s *Store) Count(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.ZCard(ctx, timelineKey(roomID)).Result()
	if err != nil {
		m, herr := s.client.HLen(ctx, messagesKey(roomID)).Result()
		if herr != nil {
			return 0, fmt.Errorf("count messages: %w", err)
		}
		return int(m), nil
	}
	return int(n), nil
}

func (s *Store) HasMessages(ctx context.Context, roomID string) (bool, error) {
	n, err := s.Count(ctx, roomID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetRead(ctx context.Context, roomID, messageID string, read bool) error {
	raw, err := s.client.HGet(ctx, messagesKey(roomID), messageID).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrRoomNotFound)
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	var m domain.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	if m.IsRead == read {
		return nil
	}
	m.IsRead = read
	data, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.client.HSet(ctx, messagesKey(roomID), messageID, data).Err()
}

// Subscribe delivers each published entry in append order until the returned
// function is called.
func (s *Store) Subscribe(ctx context.Context, roomID string, fn func(*domain.Message)) (func(), error) {
	ps := s.client.Subscribe(ctx, roomChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, err)
	}

	go func() {
		for msg := range ps.Channel() {
			var m domain.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Printf("redis: decode pushed message in %s: %v", roomID, err)
				continue
			}
			fn(&m)
		}
	}()

	return func() { _ = ps.Close() }, nil
}

// scanFallback is the degraded read path: fetch the whole message hash
// unordered, then sort, filter and bound client-side.
func (s *Store) scanFallback(ctx context.Context, roomID string, before int64, limit int, cause error) ([]*domain.Message, error) {
	raw, err := s.client.HGetAll(ctx, messagesKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ordered read failed (%v), fallback scan failed: %w", cause, err)
	}
	msgs := make([]*domain.Message, 0, len(raw))
	for id, blob := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(blob), &m); err != nil {
			log.Printf("redis: decode message %s in %s: %v", id, roomID, err)
			continue
		}
		if before > 0 && m.Timestamp >= before {
			continue
		}
		msgs = append(msgs, &m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) fetchByID(ctx context.Context, roomID string, ids []string) ([]*domain.Message, error) {
	if len(ids) == 0 {
		return []*domain.Message{}, nil
	}
	raw, err := s.client.HMGet(ctx, messagesKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch message bodies: %w", err)
	}
	msgs := make([]*domain.Message, 0, len(raw))
	for i, v := range raw {
		blob, ok := v.(string)
		if !ok {
			// Timeline entry without a body; skip rather than fail the read.
			log.Printf("redis: missing body for message %s in %s", ids[i], roomID)
			continue
		}
		var m domain.Message
		if err := json.Unmarshal([]byte(blob), &m); err != nil {
			log.Printf("redis: decode message %s in %s: %v", ids[i], roomID, err)
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func reverse(ss []string) {
	for i, j := 0, len(ss)-1; i < j; i, j = i+1, j-1 {
		ss[i], ss[j] = ss[j], ss[i]
	}
}

// ── RoomStore ────────────────────────────────────────────────────────────────

var _ domain.RoomStore = (*Store)(nil)

func (s *Store) GetMetadata(ctx context.Context, roomID string) (*domain.RoomMetadata, error) {
	raw, err := s.client.Get(ctx, metaKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room metadata: %w", err)
	}
	var meta domain.RoomMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal room metadata: %w", err)
	}
	return &meta, nil
}

func (s *Store) PutMetadata(ctx context.Context, roomID string, meta *domain.RoomMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal room metadata: %w", err)
	}
	return s.client.Set(ctx, metaKey(roomID), data, 0).Err()
}

// UpdateSummary bumps the last-message fields, creating a minimal metadata
// document for legacy rooms that never had one.
func (s *Store) UpdateSummary(ctx context.Context, roomID, lastMessage string, lastMessageTime int64) error {
	meta, err := s.GetMetadata(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		meta = &domain.RoomMetadata{CreatedAt: time.Now().UnixMilli()}
	} else if err != nil {
		return err
	}
	meta.LastMessage = lastMessage
	meta.LastMessageTime = lastMessageTime
	meta.UpdatedAt = time.Now().UnixMilli()
	return s.PutMetadata(ctx, roomID, meta)
}

func (s *Store) UserRooms(ctx context.Context, userID string) (map[string]*domain.RoomSummary, error) {
	raw, err := s.client.HGetAll(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load user rooms: %w", err)
	}
	index := make(map[string]*domain.RoomSummary, len(raw))
	for roomID, blob := range raw {
		var summary domain.RoomSummary
		if err := json.Unmarshal([]byte(blob), &summary); err != nil {
			log.Printf("redis: decode room summary %s for %s: %v", roomID, userID, err)
			continue
		}
		index[roomID] = &summary
	}
	return index, nil
}

// PutUserRoom writes the user's index entry for a room. The cached unread
// count of an existing entry is preserved; SetUnreadCount is the only writer
// of that field.
func (s *Store) PutUserRoom(ctx context.Context, userID, roomID string, summary *domain.RoomSummary) error {
	entry := *summary
	if existing, err := s.userRoom(ctx, userID, roomID); err == nil && existing != nil {
		entry.UnreadCount = existing.UnreadCount
	}
	if err := s.writeUserRoom(ctx, userID, roomID, &entry); err != nil {
		return err
	}
	s.notifyUser(ctx, userID)
	return nil
}

func (s *Store) SetUnreadCount(ctx context.Context, userID, roomID string, n int) error {
	entry, err := s.userRoom(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &domain.RoomSummary{}
	}
	if entry.UnreadCount == n {
		return nil
	}
	entry.UnreadCount = n
	if err := s.writeUserRoom(ctx, userID, roomID, entry); err != nil {
		return err
	}
	s.notifyUser(ctx, userID)
	return nil
}

func (s *Store) SubscribeUserRooms(ctx context.Context, userID string, fn func()) (func(), error) {
	ps := s.client.Subscribe(ctx, userChannel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to user %s: %w", userID, err)
	}
	go func() {
		for range ps.Channel() {
			fn()
		}
	}()
	return func() { _ = ps.Close() }, nil
}

func (s *Store) userRoom(ctx context.Context, userID, roomID string) (*domain.RoomSummary, error) {
	raw, err := s.client.HGet(ctx, userRoomsKey(userID), roomID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load room summary: %w", err)
	}
	var summary domain.RoomSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal room summary: %w", err)
	}
	return &summary, nil
}

func (s *Store) writeUserRoom(ctx context.Context, userID, roomID string, summary *domain.RoomSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal room summary: %w", err)
	}
	return s.client.HSet(ctx, userRoomsKey(userID), roomID, data).Err()
}

func (s *Store) notifyUser(ctx context.Context, userID string) {
	if err := s.client.Publish(ctx, userChannel(userID), "rooms").Err(); err != nil {
		log.Printf("redis: notify user %s: %v", userID, err)
	}
}

// ── PresenceStore ────────────────────────────────────────────────────────────

var _ domain.PresenceStore = (*Store)(nil)

func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	state := "offline"
	if online {
		state = "online"
	}
	return s.client.Set(ctx, presenceKey(userID), state, 0).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	state, err := s.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load presence: %w", err)
	}
	return state == "online", nil
}

func (s *Store) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	if typing {
		return s.client.SAdd(ctx, typingKey(roomID), userID).Err()
	}
	return s.client.SRem(ctx, typingKey(roomID), userID).Err()
}

func (s *Store) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	users, err := s.client.SMembers(ctx, typingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list typing users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// RegisterDisconnect queues a compensating write to run when the store
// connection is torn down (Close). The returned cancel removes it, for
// clients that already compensated on a clean path.
func (s *Store) RegisterDisconnect(fn func(ctx context.Context)) func() {
	s.mu.Lock()
	id := s.nextHookID
	s.nextHookID++
	s.disconnects[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.disconnects, id)
		s.mu.Unlock()
	}
}
