package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"secretaria/internal/models"
)

// CreateContact registers a forwarding destination for the user.
func (s *Service) CreateContact(ctx context.Context, userID int64, name, chatID string) (*models.Contact, error) {
	name = strings.TrimSpace(name)
	chatID = strings.TrimSpace(chatID)
	if name == "" || chatID == "" {
		return nil, errors.New("name and chat_id are required")
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (user_id, name, chat_id, created_at) VALUES (?, ?, ?, ?)`,
		userID, name, chatID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("contact id: %w", err)
	}
	return &models.Contact{ID: id, UserID: userID, Name: name, ChatID: chatID, CreatedAt: now}, nil
}

func (s *Service) ListContacts(ctx context.Context, userID int64) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, chat_id, created_at FROM contacts WHERE user_id = ? ORDER BY name ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.ChatID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact returns sql.ErrNoRows for unknown or foreign contacts.
func (s *Service) GetContact(ctx context.Context, userID, contactID int64) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, chat_id, created_at FROM contacts WHERE id = ? AND user_id = ?`,
		contactID, userID,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.ChatID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// DeleteContact removes a contact together with its forward history.
func (s *Service) DeleteContact(ctx context.Context, userID, contactID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND user_id = ?`, contactID, userID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordForward stores the outcome of relaying one message.
func (s *Service) RecordForward(ctx context.Context, f models.Forward) (*models.Forward, error) {
	if f.Status == "" {
		f.Status = models.ForwardPending
	}
	f.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forwards (user_id, contact_id, message_id, status, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.UserID, f.ContactID, f.MessageID, f.Status, f.Detail, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("record forward: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("forward id: %w", err)
	}
	f.ID = id
	return &f, nil
}

// ListForwards returns the user's forward history, newest first.
func (s *Service) ListForwards(ctx context.Context, userID int64) ([]models.Forward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, contact_id, message_id, status, detail, created_at FROM forwards WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list forwards: %w", err)
	}
	defer rows.Close()

	forwards := []models.Forward{}
	for rows.Next() {
		var f models.Forward
		if err := rows.Scan(&f.ID, &f.UserID, &f.ContactID, &f.MessageID, &f.Status, &f.Detail, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forward: %w", err)
		}
		forwards = append(forwards, f)
	}
	return forwards, rows.Err()
}
