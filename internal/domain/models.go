package domain

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleClient SenderRole = "CLIENT"
	RoleAgent  SenderRole = "AGENT"
	RoleAdmin  SenderRole = "ADMIN"
)

// MessageStatus tracks the client-side delivery state of an outgoing message.
// It is never persisted to the log.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Attachment describes a file attached to a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message is one entry of a room's append-only log. ID is assigned by the
// store on append and is empty for not-yet-confirmed entries; TempID is the
// client-assigned identifier carried by an unconfirmed entry until its
// confirmed twin arrives.
type Message struct {
	ID          string        `json:"id,omitempty"`
	TempID      string        `json:"temp_id,omitempty"`
	CaseID      string        `json:"case_id,omitempty"`
	SenderID    string        `json:"sender_id"`
	SenderName  string        `json:"sender_name,omitempty"`
	SenderRole  SenderRole    `json:"sender_role,omitempty"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"` // sender-observed send time, unix millis
	IsRead      bool          `json:"is_read"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
}

// Participants is the client/agent pair a room belongs to.
type Participants struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name,omitempty"`
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name,omitempty"`
}

// CaseReference records one case served by a room. A room keeps history for
// every case assigned to the same participant pair; reassignment appends a
// reference instead of creating a new room.
type CaseReference struct {
	CaseID        string `json:"case_id"`
	CaseReference string `json:"case_reference,omitempty"`
	AssignedAt    int64  `json:"assigned_at"`
}

// RoomMetadata is the metadata document stored alongside a room's log.
type RoomMetadata struct {
	Participants    Participants    `json:"participants"`
	CaseReferences  []CaseReference `json:"case_references,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	LastMessage     string          `json:"last_message,omitempty"`
	LastMessageTime int64           `json:"last_message_time,omitempty"`
	UpdatedAt       int64           `json:"updated_at,omitempty"`
}

// References reports whether the metadata already lists the given case.
func (m *RoomMetadata) References(caseID string) bool {
	for _, ref := range m.CaseReferences {
		if ref.CaseID == caseID {
			return true
		}
	}
	return false
}

// RoomSummary is one entry of a user's room index: the denormalized bits
// needed to render a conversation row without touching the room itself.
// UnreadCount here is a cache; the message scan is the source of truth.
type RoomSummary struct {
	CaseID          string `json:"case_id,omitempty"`
	CaseReference   string `json:"case_reference,omitempty"`
	LastMessage     string `json:"last_message,omitempty"`
	LastMessageTime int64  `json:"last_message_time,omitempty"`
	UnreadCount     int    `json:"unread_count"`
}

// Conversation is the UI-facing projection of a room for one user. It is
// recomputed on every metadata/unread change, never stored.
type Conversation struct {
	ID              string       `json:"id"` // room id
	CaseID          string       `json:"case_id,omitempty"`
	CaseReference   string       `json:"case_reference,omitempty"`
	LastMessage     string       `json:"last_message,omitempty"`
	LastMessageTime int64        `json:"last_message_time,omitempty"`
	UnreadCount     int          `json:"unread_count"`
	Participants    Participants `json:"participants"`
}

// Identity is the authenticated user on whose behalf the engine acts.
type Identity struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role SenderRole `json:"role"`
}
