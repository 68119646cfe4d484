package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"secretaria/internal/models"
)

const (
	DefaultTitle   = "New conversation"
	titleMaxRunes  = 50
	DefaultHistory = 50
)

// TitleFrom derives a conversation title from the first user message.
func TitleFrom(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}

// CreateConversation inserts a new conversation for the user.
func (s *Service) CreateConversation(ctx context.Context, userID int64, title string) (*models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// ListConversations returns the user's conversations ordered by last activity.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetConversation loads one conversation owned by the user. A foreign or
// missing id yields sql.ErrNoRows.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// RenameConversation sets a conversation title for the specified user.
func (s *Service) RenameConversation(ctx context.Context, userID, conversationID int64, title string) error {
	if conversationID <= 0 {
		return errors.New("invalid conversation id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?`,
		title, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteConversation removes a conversation with its messages and file rows.
// It returns the on-disk paths of the removed files so the caller can unlink them.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID int64) ([]string, error) {
	if conversationID <= 0 {
		return nil, errors.New("invalid conversation id")
	}
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	paths, err := s.storedPaths(ctx, `SELECT stored_path FROM files WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM files WHERE conversation_id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, conversationID); err != nil {
			return nil, fmt.Errorf("delete conversation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete conversation: %w", err)
	}
	return paths, nil
}

// AddMessage stores a message and bumps the conversation's updated_at.
func (s *Service) AddMessage(ctx context.Context, userID, conversationID int64, role models.Role, content, modelUsed string) (*models.Message, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if conversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, conversation_id, role, content, model_used, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, conversationID, role, content, modelUsed, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return &models.Message{
		ID:             &id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ModelUsed:      modelUsed,
		CreatedAt:      &now,
	}, nil
}

// AutoTitle replaces the default title with one derived from content when the
// conversation holds exactly one user message.
func (s *Service) AutoTitle(ctx context.Context, userID, conversationID int64, content string) (string, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	if conv.Title != DefaultTitle {
		return conv.Title, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ?`,
		conversationID, models.RoleUser,
	).Scan(&count); err != nil {
		return "", fmt.Errorf("count messages: %w", err)
	}
	if count != 1 {
		return conv.Title, nil
	}
	title := TitleFrom(content)
	if err := s.RenameConversation(ctx, userID, conversationID, title); err != nil {
		return "", err
	}
	return title, nil
}

// ListMessages returns the conversation's messages in order, each with the
// files attached to it.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID int64) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, model_used, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}

	files, err := s.queryFiles(ctx,
		`SELECT `+fileColumns+` FROM files WHERE conversation_id = ? AND message_id IS NOT NULL ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[int64][]models.FileRef)
	for i := range files {
		if files[i].MessageID == nil {
			continue
		}
		id := *files[i].MessageID
		byMessage[id] = append(byMessage[id], files[i].Ref())
	}
	for i := range messages {
		messages[i].Files = byMessage[*messages[i].ID]
	}
	return messages, nil
}

// RecentHistory returns up to limit of the latest messages in chronological order.
func (s *Service) RecentHistory(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, model_used, created_at FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessagesByIDs loads the user's messages with the given ids, in id order.
func (s *Service) MessagesByIDs(ctx context.Context, userID int64, ids []int64) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause(
		`SELECT id, conversation_id, role, content, model_used, created_at FROM messages WHERE user_id = ? AND id IN (%s) ORDER BY id ASC`,
		userID, ids,
	)
	return s.queryMessages(ctx, query, args...)
}

func (s *Service) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var id int64
		var created sql.NullTime
		if err := rows.Scan(&id, &m.ConversationID, &m.Role, &m.Content, &m.ModelUsed, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = &id
		if created.Valid {
			ts := created.Time
			m.CreatedAt = &ts
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Service) storedPaths(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan stored file: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// inClause expands a single %s placeholder into len(ids) bind markers.
func inClause(format string, first any, ids []int64) (string, []any) {
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, first)
	for _, id := range ids {
		args = append(args, id)
	}
	return fmt.Sprintf(format, marks), args
}
