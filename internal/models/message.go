package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a transcript entry. ID and CreatedAt stay nil while the message
// is optimistic; the server assigns both once it has persisted the row.
type Message struct {
	ID             *int64     `json:"id"`
	LocalID        string     `json:"-"`
	ConversationID int64      `json:"conversation_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	ModelUsed      string     `json:"model_used,omitempty"`
	CreatedAt      *time.Time `json:"created_at"`
	Files          []FileRef  `json:"files"`
	// Failure holds the annotation shown when the stream producing this
	// message broke. Empty for healthy messages.
	Failure string `json:"-"`
}

// Settled reports whether the server identifier has been bound.
func (m *Message) Settled() bool {
	return m != nil && m.ID != nil
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.ID != nil {
		id := *m.ID
		out.ID = &id
	}
	if m.CreatedAt != nil {
		ts := *m.CreatedAt
		out.CreatedAt = &ts
	}
	if m.Files != nil {
		out.Files = append([]FileRef(nil), m.Files...)
	}
	return out
}

// Int64Ptr is a convenience for filling nullable identifiers.
func Int64Ptr(v int64) *int64 {
	return &v
}
