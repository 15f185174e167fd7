package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casechat/internal/domain"
)

// RoomResolver derives and resolves the storage partition backing a case
// conversation. Two naming schemes coexist: paired ids derived from the
// participant pair, and legacy rooms whose id is the case id itself.
type RoomResolver struct {
	rooms     domain.RoomStore
	messages  domain.MessageStore
	directory domain.CaseDirectory // optional
}

func NewRoomResolver(rooms domain.RoomStore, messages domain.MessageStore, directory domain.CaseDirectory) *RoomResolver {
	return &RoomResolver{rooms: rooms, messages: messages, directory: directory}
}

// RoomIDForPair derives the deterministic room id for a participant pair.
// Commutative: the argument order never changes the result.
func RoomIDForPair(idA, idB string) string {
	if idA > idB {
		idA, idB = idB, idA
	}
	return idA + "_" + idB
}

// ResolveRoomForCase finds the room serving the given case without writing
// anything. Strategies run in order: the paired id when both participants are
// known and that room's metadata references the case, then the case id itself
// as a legacy room. A legacy room with messages but no metadata document
// still resolves. Returns domain.ErrRoomNotFound when neither scheme matches;
// callers decide whether to create a room.
func (r *RoomResolver) ResolveRoomForCase(ctx context.Context, caseID, clientID, agentID string) (string, error) {
	if caseID == "" {
		return "", domain.ErrInvalidInput
	}
	clientID, agentID = r.fillPair(ctx, caseID, clientID, agentID)

	if clientID != "" && agentID != "" {
		paired := RoomIDForPair(clientID, agentID)
		meta, err := r.rooms.GetMetadata(ctx, paired)
		if err == nil && meta.References(caseID) {
			return paired, nil
		}
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return "", fmt.Errorf("resolve paired room: %w", err)
		}
	}

	if _, err := r.rooms.GetMetadata(ctx, caseID); err == nil {
		return caseID, nil
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		return "", fmt.Errorf("resolve legacy room: %w", err)
	}
	hasMsgs, err := r.messages.HasMessages(ctx, caseID)
	if err != nil {
		return "", fmt.Errorf("probe legacy room: %w", err)
	}
	if hasMsgs {
		return caseID, nil
	}

	return "", domain.ErrRoomNotFound
}

// InitializeRoomForCase creates (or extends) the paired room for a case
// during case-assignment initialization: it seeds blank metadata with the
// first case reference and mirrors an empty summary into both participants'
// room indexes. Re-initializing an existing room only appends the case
// reference.
func (r *RoomResolver) InitializeRoomForCase(ctx context.Context, caseID, caseRef string, p domain.Participants) (string, error) {
	if p.ClientID == "" || p.AgentID == "" {
		return "", domain.ErrInvalidInput
	}
	roomID := RoomIDForPair(p.ClientID, p.AgentID)
	now := time.Now().UnixMilli()

	meta, err := r.rooms.GetMetadata(ctx, roomID)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		meta = &domain.RoomMetadata{
			Participants: p,
			CreatedAt:    now,
		}
	case err != nil:
		return "", fmt.Errorf("load room metadata: %w", err)
	}

	if !meta.References(caseID) {
		meta.CaseReferences = append(meta.CaseReferences, domain.CaseReference{
			CaseID:        caseID,
			CaseReference: caseRef,
			AssignedAt:    now,
		})
	}
	meta.UpdatedAt = now
	if err := r.rooms.PutMetadata(ctx, roomID, meta); err != nil {
		return "", fmt.Errorf("put room metadata: %w", err)
	}

	summary := &domain.RoomSummary{CaseID: caseID, CaseReference: caseRef}
	for _, userID := range []string{p.ClientID, p.AgentID} {
		if err := r.rooms.PutUserRoom(ctx, userID, roomID, summary); err != nil {
			return "", fmt.Errorf("seed room index for %s: %w", userID, err)
		}
	}

	return roomID, nil
}

// AddCaseToRoom records a case reassignment onto an existing room.
func (r *RoomResolver) AddCaseToRoom(ctx context.Context, roomID, caseID, caseRef string) error {
	meta, err := r.rooms.GetMetadata(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room metadata: %w", err)
	}
	if meta.References(caseID) {
		return nil
	}
	now := time.Now().UnixMilli()
	meta.CaseReferences = append(meta.CaseReferences, domain.CaseReference{
		CaseID:        caseID,
		CaseReference: caseRef,
		AssignedAt:    now,
	})
	meta.UpdatedAt = now
	return r.rooms.PutMetadata(ctx, roomID, meta)
}

// fillPair consults the case directory for missing participant ids.
// Best-effort: a case with no agent assigned simply has no paired room yet.
func (r *RoomResolver) fillPair(ctx context.Context, caseID, clientID, agentID string) (string, string) {
	if r.directory == nil || (clientID != "" && agentID != "") {
		return clientID, agentID
	}
	p, err := r.directory.ParticipantsForCase(ctx, caseID)
	if err != nil {
		return clientID, agentID
	}
	if clientID == "" {
		clientID = strings.TrimSpace(p.ClientID)
	}
	if agentID == "" {
		agentID = strings.TrimSpace(p.AgentID)
	}
	return clientID, agentID
}
