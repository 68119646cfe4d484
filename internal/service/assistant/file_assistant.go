package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"secretaria/internal/models"
)

const fileColumns = `id, user_id, conversation_id, message_id, filename, stored_path, mime_type, size_bytes, file_type, extracted_text, created_at`

// RecordFile persists an uploaded or generated file. MessageID may be nil
// until the file is attached to a message.
func (s *Service) RecordFile(ctx context.Context, f models.StoredFile) (*models.StoredFile, error) {
	if f.UserID <= 0 || f.ConversationID <= 0 {
		return nil, errors.New("user and conversation are required")
	}
	if f.Filename == "" || f.StoredPath == "" {
		return nil, errors.New("filename and stored path are required")
	}
	f.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (user_id, conversation_id, message_id, filename, stored_path, mime_type, size_bytes, file_type, extracted_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.ConversationID, nullableID(f.MessageID), f.Filename, f.StoredPath, f.MimeType, f.SizeBytes, f.Kind, f.ExtractedText, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("file id: %w", err)
	}
	f.ID = id
	return &f, nil
}

// GetFile returns a file owned by the user.
func (s *Service) GetFile(ctx context.Context, userID, fileID int64) (*models.StoredFile, error) {
	files, err := s.queryFiles(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`, fileID, userID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, sql.ErrNoRows
	}
	return &files[0], nil
}

// FilesByIDs loads the user's files in the conversation matching ids. Unknown
// ids are skipped.
func (s *Service) FilesByIDs(ctx context.Context, userID, conversationID int64, ids []int64) ([]models.StoredFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause(
		`SELECT `+fileColumns+` FROM files WHERE user_id = ? AND id IN (%s) ORDER BY id ASC`,
		userID, ids,
	)
	files, err := s.queryFiles(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if f.ConversationID == conversationID {
			out = append(out, f)
		}
	}
	return out, nil
}

// ListFiles returns the user's files, newest first. An empty kind matches
// every kind.
func (s *Service) ListFiles(ctx context.Context, userID int64, kind models.FileKind) ([]models.StoredFile, error) {
	if kind == "" {
		return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM files WHERE user_id = ? ORDER BY id DESC`, userID)
	}
	return s.queryFiles(ctx,
		`SELECT `+fileColumns+` FROM files WHERE user_id = ? AND file_type = ? ORDER BY id DESC`,
		userID, kind,
	)
}

// ConversationFiles returns the files of one conversation in upload order.
func (s *Service) ConversationFiles(ctx context.Context, userID, conversationID int64) ([]models.StoredFile, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.queryFiles(ctx,
		`SELECT `+fileColumns+` FROM files WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
}

// AttachFiles binds files to a message so they are no longer orphans.
func (s *Service) AttachFiles(ctx context.Context, messageID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClause(`UPDATE files SET message_id = ? WHERE id IN (%s)`, messageID, ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("attach files: %w", err)
	}
	return nil
}

func (s *Service) queryFiles(ctx context.Context, query string, args ...any) ([]models.StoredFile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	files := []models.StoredFile{}
	for rows.Next() {
		var f models.StoredFile
		var messageID sql.NullInt64
		if err := rows.Scan(&f.ID, &f.UserID, &f.ConversationID, &messageID, &f.Filename, &f.StoredPath,
			&f.MimeType, &f.SizeBytes, &f.Kind, &f.ExtractedText, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if messageID.Valid {
			id := messageID.Int64
			f.MessageID = &id
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
