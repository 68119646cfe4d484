package models

import "time"

type FileKind string

const (
	FileKindImage     FileKind = "image"
	FileKindDocument  FileKind = "document"
	FileKindGenerated FileKind = "generated"
)

// FileRef is the immutable descriptor a message carries for an attachment.
type FileRef struct {
	ID        int64    `json:"id"`
	Filename  string   `json:"filename"`
	SizeBytes *int64   `json:"size_bytes,omitempty"`
	Kind      FileKind `json:"file_type"`
}

// StoredFile is the backend row behind a FileRef.
type StoredFile struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      *int64    `json:"message_id"`
	Filename       string    `json:"filename"`
	StoredPath     string    `json:"-"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	Kind           FileKind  `json:"file_type"`
	ExtractedText  string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Ref converts the stored row to the descriptor sent to clients.
func (f *StoredFile) Ref() FileRef {
	size := f.SizeBytes
	return FileRef{ID: f.ID, Filename: f.Filename, SizeBytes: &size, Kind: f.Kind}
}
