package models

import "time"

// Contact is a forwarding destination on an external messaging channel.
type Contact struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Name      string    `json:"name"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ForwardStatus string

const (
	ForwardPending ForwardStatus = "pending"
	ForwardSent    ForwardStatus = "sent"
	ForwardError   ForwardStatus = "error"
	ForwardPartial ForwardStatus = "partial"
)

// Forward records one message relayed to a contact.
type Forward struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"-"`
	ContactID int64         `json:"contact_id"`
	MessageID int64         `json:"message_id"`
	Status    ForwardStatus `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
