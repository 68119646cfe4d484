package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"secretaria/internal/models"
	"secretaria/internal/session"
)

type AuthResult struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, username, password string) (AuthResult, error) {
	var out AuthResult
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", credentials{username, password}, &out, false)
	return out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	var out AuthResult
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", credentials{username, password}, &out, false)
	return out, err
}

// Logout revokes the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil, false)
}

// DeleteAccount removes the signed-in user and everything they own.
func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/auth/account", map[string]string{"password": password}, nil, true)
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/api/chat/conversations", nil, &out, true)
	return out, err
}

func (c *Client) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/conversations", map[string]string{"title": title}, &out, true)
	return out, err
}

func (c *Client) RenameConversation(ctx context.Context, id int64, title string) (models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/chat/conversations/%d", id), map[string]string{"title": title}, &out, true)
	return out, err
}

func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/chat/conversations/%d", id), nil, nil, true)
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/chat/conversations/%d/messages", conversationID), nil, &out, true)
	return out, err
}

type streamRequest struct {
	Content     string  `json:"content"`
	UseSearch   bool    `json:"use_search"`
	GenerateDoc bool    `json:"generate_doc"`
	DocFormat   string  `json:"doc_format,omitempty"`
	FileIDs     []int64 `json:"file_ids,omitempty"`
}

// OpenStream posts a message and returns the reply body. The caller must
// close it.
func (c *Client) OpenStream(ctx context.Context, req session.SendRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(streamRequest{
		Content:     req.Content,
		UseSearch:   req.UseSearch,
		GenerateDoc: req.GenerateDoc,
		DocFormat:   req.DocFormat,
		FileIDs:     req.FileIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	path := fmt.Sprintf("/api/chat/conversations/%d/messages", req.ConversationID)
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.do(httpReq, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
