package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"casechat/internal/domain"
)

// lastMessagePreviewLimit bounds the room-summary preview of the latest
// message.
const lastMessagePreviewLimit = 100

// Service bundles the stateless pieces of the messaging engine around one
// pair of injected stores. Screen-bound callers that need an optimistic local
// message list spawn a Session from it.
type Service struct {
	messages domain.MessageStore
	rooms    domain.RoomStore

	Resolver      *RoomResolver
	Log           *LogClient
	Reads         *ReadTracker
	Conversations *ConversationService

	InitialWindowSize int
	OlderPageSize     int
	DedupeWindow      time.Duration
}

func NewService(
	messages domain.MessageStore,
	rooms domain.RoomStore,
	directory domain.CaseDirectory,
	initialWindow, pageSize int,
	dedupeWindow time.Duration,
) *Service {
	if dedupeWindow <= 0 {
		dedupeWindow = DefaultDedupeWindow
	}
	reads := NewReadTracker(messages, rooms)
	return &Service{
		messages: messages,
		rooms:    rooms,

		Resolver:      NewRoomResolver(rooms, messages, directory),
		Log:           NewLogClient(messages),
		Reads:         reads,
		Conversations: NewConversationService(rooms, reads),

		InitialWindowSize: initialWindow,
		OlderPageSize:     pageSize,
		DedupeWindow:      dedupeWindow,
	}
}

// SendInput carries everything needed to author a message into a case
// conversation. ClientID/AgentID are optional hints for room resolution.
type SendInput struct {
	CaseID      string
	SenderID    string
	SenderName  string
	SenderRole  domain.SenderRole
	Content     string
	Attachments []domain.Attachment
	ClientID    string
	AgentID     string
}

// ResolveOrCreateRoom resolves the room for a send, creating the paired room
// lazily on first contact when both participant ids are derivable. It returns
// ErrRoomNotFound when no room can be resolved or created; sends must abort
// rather than produce an orphaned write.
func (s *Service) ResolveOrCreateRoom(ctx context.Context, in SendInput) (string, error) {
	roomID, err := s.Resolver.ResolveRoomForCase(ctx, in.CaseID, in.ClientID, in.AgentID)
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return "", err
	}

	p := domain.Participants{ClientID: in.ClientID, AgentID: in.AgentID}
	switch in.SenderRole {
	case domain.RoleClient:
		p.ClientName = in.SenderName
	case domain.RoleAgent, domain.RoleAdmin:
		p.AgentName = in.SenderName
	}
	roomID, err = s.Resolver.InitializeRoomForCase(ctx, in.CaseID, "", p)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return "", domain.ErrRoomNotFound
		}
		return "", err
	}
	return roomID, nil
}

// Deliver appends the message to the room's log and fans the summary out:
// the room metadata gets the truncated preview and timestamp, and each
// participant's index entry mirrors it. The recipient's cached unread count
// is refreshed opportunistically. Returns the confirmed entry.
func (s *Service) Deliver(ctx context.Context, roomID string, m *domain.Message) (*domain.Message, error) {
	stored := *m
	stored.Status = ""
	id, err := s.messages.Append(ctx, roomID, &stored)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	confirmed := stored
	confirmed.ID = id
	confirmed.Status = domain.StatusSent

	preview := truncateRunes(m.Content, lastMessagePreviewLimit)
	if err := s.rooms.UpdateSummary(ctx, roomID, preview, m.Timestamp); err != nil {
		log.Printf("chat: update summary for room %s: %v", roomID, err)
	}
	s.mirrorSummary(ctx, roomID, m.SenderID, preview, m.Timestamp)

	return &confirmed, nil
}

// mirrorSummary copies the latest-message preview into each participant's
// room index entry, where one exists. Legacy rooms without metadata have no
// participant index to mirror into.
func (s *Service) mirrorSummary(ctx context.Context, roomID, senderID, preview string, ts int64) {
	meta, err := s.rooms.GetMetadata(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			log.Printf("chat: load metadata for room %s: %v", roomID, err)
		}
		return
	}

	var caseID, caseRef string
	if n := len(meta.CaseReferences); n > 0 {
		caseID = meta.CaseReferences[n-1].CaseID
		caseRef = meta.CaseReferences[n-1].CaseReference
	}

	for _, userID := range []string{meta.Participants.ClientID, meta.Participants.AgentID} {
		if userID == "" {
			continue
		}
		summary := &domain.RoomSummary{
			CaseID:          caseID,
			CaseReference:   caseRef,
			LastMessage:     preview,
			LastMessageTime: ts,
		}
		if err := s.rooms.PutUserRoom(ctx, userID, roomID, summary); err != nil {
			log.Printf("chat: mirror summary to user %s: %v", userID, err)
			continue
		}
		if userID != senderID {
			s.Reads.RefreshUnreadCache(ctx, roomID, userID)
		}
	}
}

// Send authors a message without an optimistic local list: the path for
// server-side callers that do not hold a session. Returns the room, the
// confirmed entry and whether the send succeeded; failures are logged, never
// surfaced as errors.
func (s *Service) Send(ctx context.Context, in SendInput) (string, *domain.Message, bool) {
	if in.Content == "" && len(in.Attachments) == 0 {
		return "", nil, false
	}
	roomID, err := s.ResolveOrCreateRoom(ctx, in)
	if err != nil {
		log.Printf("chat: send to case %s: %v", in.CaseID, err)
		return "", nil, false
	}
	m := &domain.Message{
		CaseID:      in.CaseID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		SenderRole:  in.SenderRole,
		Content:     in.Content,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: in.Attachments,
	}
	confirmed, err := s.Deliver(ctx, roomID, m)
	if err != nil {
		log.Printf("chat: deliver to room %s: %v", roomID, err)
		return roomID, nil, false
	}
	return roomID, confirmed, true
}

// RoomParticipants returns the participant pair for a room, when its
// metadata document exists.
func (s *Service) RoomParticipants(ctx context.Context, roomID string) (domain.Participants, bool) {
	meta, err := s.rooms.GetMetadata(ctx, roomID)
	if err != nil {
		return domain.Participants{}, false
	}
	return meta.Participants, true
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
