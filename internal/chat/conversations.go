package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"casechat/internal/domain"
)

// ConversationService derives the UI-facing conversation list from a user's
// room index. Projections are recomputed on every change, never stored.
type ConversationService struct {
	rooms domain.RoomStore
	reads *ReadTracker
}

func NewConversationService(rooms domain.RoomStore, reads *ReadTracker) *ConversationService {
	return &ConversationService{rooms: rooms, reads: reads}
}

// ListForUser builds the conversation projections for every room in the
// user's index, most recent activity first. The unread count comes from the
// authoritative message scan; the cached index value is only a fallback when
// the scan fails.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	index, err := s.rooms.UserRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}

	convs := make([]*domain.Conversation, 0, len(index))
	for roomID, summary := range index {
		conv := &domain.Conversation{
			ID:              roomID,
			CaseID:          summary.CaseID,
			CaseReference:   summary.CaseReference,
			LastMessage:     summary.LastMessage,
			LastMessageTime: summary.LastMessageTime,
			UnreadCount:     summary.UnreadCount,
		}

		meta, err := s.rooms.GetMetadata(ctx, roomID)
		switch {
		case err == nil:
			conv.Participants = meta.Participants
			if conv.LastMessage == "" {
				conv.LastMessage = meta.LastMessage
				conv.LastMessageTime = meta.LastMessageTime
			}
			if len(meta.CaseReferences) > 0 && conv.CaseID == "" {
				latest := meta.CaseReferences[len(meta.CaseReferences)-1]
				conv.CaseID = latest.CaseID
				conv.CaseReference = latest.CaseReference
			}
		case errors.Is(err, domain.ErrRoomNotFound):
			// Legacy room without a metadata document; the summary is
			// all we have.
		default:
			log.Printf("chat: load metadata for room %s: %v", roomID, err)
		}

		if n, err := s.reads.ComputeUnreadCount(ctx, roomID, userID); err == nil {
			conv.UnreadCount = n
		} else {
			log.Printf("chat: unread count for room %s: %v", roomID, err)
		}

		convs = append(convs, conv)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageTime > convs[j].LastMessageTime
	})
	return convs, nil
}

// SubscribeForUser delivers a freshly recomputed projection list whenever any
// room summary or unread entry of the user changes.
func (s *ConversationService) SubscribeForUser(ctx context.Context, userID string, fn func([]*domain.Conversation)) (func(), error) {
	return s.rooms.SubscribeUserRooms(ctx, userID, func() {
		convs, err := s.ListForUser(ctx, userID)
		if err != nil {
			log.Printf("chat: rebuild conversations for user %s: %v", userID, err)
			return
		}
		fn(convs)
	})
}
