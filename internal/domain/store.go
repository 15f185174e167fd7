package domain

import "context"

// MessageStore is the append-only per-room message log. Implementations must
// be push-capable: Subscribe delivers each newly appended entry exactly once,
// in append order, without the caller polling.
type MessageStore interface {
	// Append writes the message and returns the store-assigned key.
	Append(ctx context.Context, roomID string, m *Message) (string, error)
	// ListLatest returns the most recent limit entries, timestamp ascending.
	ListLatest(ctx context.Context, roomID string, limit int) ([]*Message, error)
	// ListBefore returns at most limit entries with timestamp strictly below
	// before, timestamp ascending.
	ListBefore(ctx context.Context, roomID string, before int64, limit int) ([]*Message, error)
	// ListAll returns every entry of the room, timestamp ascending.
	ListAll(ctx context.Context, roomID string) ([]*Message, error)
	Count(ctx context.Context, roomID string) (int, error)
	HasMessages(ctx context.Context, roomID string) (bool, error)
	// SetRead flips the read flag of a single message.
	SetRead(ctx context.Context, roomID, messageID string, read bool) error
	// Subscribe registers a push listener for new entries. The returned
	// function tears the subscription down.
	Subscribe(ctx context.Context, roomID string, fn func(*Message)) (func(), error)
	// Available reports store reachability. Reads against an unavailable
	// store degrade to empty results rather than failing.
	Available(ctx context.Context) bool
}

// RoomStore holds room metadata and the per-user room index.
type RoomStore interface {
	// GetMetadata returns ErrRoomNotFound when no metadata document exists.
	GetMetadata(ctx context.Context, roomID string) (*RoomMetadata, error)
	PutMetadata(ctx context.Context, roomID string, meta *RoomMetadata) error
	// UpdateSummary bumps the room's last-message fields.
	UpdateSummary(ctx context.Context, roomID, lastMessage string, lastMessageTime int64) error

	// UserRooms returns the user's room index keyed by room id.
	UserRooms(ctx context.Context, userID string) (map[string]*RoomSummary, error)
	// PutUserRoom writes the user's index entry for a room. The UnreadCount
	// of an existing entry is preserved regardless of the value in s;
	// SetUnreadCount is the only writer of that field.
	PutUserRoom(ctx context.Context, userID, roomID string, s *RoomSummary) error
	SetUnreadCount(ctx context.Context, userID, roomID string, n int) error
	// SubscribeUserRooms pushes a signal whenever any index entry of the
	// user changes.
	SubscribeUserRooms(ctx context.Context, userID string, fn func()) (func(), error)
}

// PresenceStore holds connection/typing ephemera. RegisterDisconnect queues a
// compensating write to run when the client's store connection goes away, so
// presence self-heals on ungraceful termination.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	SetTyping(ctx context.Context, roomID, userID string, typing bool) error
	TypingUsers(ctx context.Context, roomID string) ([]string, error)
	RegisterDisconnect(fn func(ctx context.Context)) (cancel func())
}

// CaseDirectory supplies the participant pair for a case. It is an external
// collaborator; implementations may legitimately not know the agent yet.
type CaseDirectory interface {
	ParticipantsForCase(ctx context.Context, caseID string) (Participants, error)
}
