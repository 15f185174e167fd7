package chat

import (
	"context"
	"fmt"
	"log"

	"casechat/internal/domain"
)

// ReadTracker computes and persists per-room read state. The full message
// scan is the source of truth for unread counts; the per-user index entry is
// a cache refreshed opportunistically, since the two can drift under
// concurrent writers.
type ReadTracker struct {
	messages domain.MessageStore
	rooms    domain.RoomStore
}

func NewReadTracker(messages domain.MessageStore, rooms domain.RoomStore) *ReadTracker {
	return &ReadTracker{messages: messages, rooms: rooms}
}

// MarkRoomRead flips the read flag on every message in the room not authored
// by userID, then zeroes the caller's unread index entry. Per-message write
// failures are logged and swallowed: another participant may legitimately
// restrict writes to their own read receipts, and one denied receipt must not
// abort the batch.
func (t *ReadTracker) MarkRoomRead(ctx context.Context, roomID, userID string) error {
	msgs, err := t.messages.ListAll(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list room messages: %w", err)
	}
	for _, m := range msgs {
		if m.SenderID == userID || m.IsRead {
			continue
		}
		if err := t.messages.SetRead(ctx, roomID, m.ID, true); err != nil {
			log.Printf("chat: mark message %s read in room %s: %v", m.ID, roomID, err)
		}
	}
	if err := t.rooms.SetUnreadCount(ctx, userID, roomID, 0); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}

// ComputeUnreadCount counts messages not authored by userID and not yet read.
func (t *ReadTracker) ComputeUnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	msgs, err := t.messages.ListAll(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("list room messages: %w", err)
	}
	count := 0
	for _, m := range msgs {
		if m.SenderID != userID && !m.IsRead {
			count++
		}
	}
	return count, nil
}

// UnreadTotal sums unread counts across every room in the user's index.
func (t *ReadTracker) UnreadTotal(ctx context.Context, userID string) (int, error) {
	index, err := t.rooms.UserRooms(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list user rooms: %w", err)
	}
	total := 0
	for roomID := range index {
		n, err := t.ComputeUnreadCount(ctx, roomID, userID)
		if err != nil {
			log.Printf("chat: unread count for room %s: %v", roomID, err)
			continue
		}
		total += n
	}
	return total, nil
}

// RefreshUnreadCache recomputes the user's unread count for a room and writes
// it into the index entry. Best-effort.
func (t *ReadTracker) RefreshUnreadCache(ctx context.Context, roomID, userID string) {
	n, err := t.ComputeUnreadCount(ctx, roomID, userID)
	if err != nil {
		log.Printf("chat: refresh unread cache for room %s: %v", roomID, err)
		return
	}
	if err := t.rooms.SetUnreadCount(ctx, userID, roomID, n); err != nil {
		log.Printf("chat: write unread cache for room %s: %v", roomID, err)
	}
}
