package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"secretaria/internal/models"
	"secretaria/internal/selection"
)

// Upload streams a file to the upload service as multipart form data.
func (c *Client) Upload(ctx context.Context, conversationID int64, filename string, body io.Reader) (models.FileRef, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	path := fmt.Sprintf("/api/upload/conversations/%d/files", conversationID)
	req, err := c.newRequest(ctx, http.MethodPost, path, pr, form.FormDataContentType())
	if err != nil {
		pr.Close()
		return models.FileRef{}, err
	}
	resp, err := c.do(req, true)
	if err != nil {
		pr.Close()
		return models.FileRef{}, err
	}
	defer resp.Body.Close()

	var ref models.FileRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return models.FileRef{}, fmt.Errorf("decode upload response: %w", err)
	}
	return ref, nil
}

// Download fetches a stored or generated file.
func (c *Client) Download(ctx context.Context, fileID int64, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/upload/files/%d", fileID), nil, "")
	if err != nil {
		return err
	}
	resp, err := c.do(req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// ListFiles lists the caller's files, newest first. An empty kind lists all.
func (c *Client) ListFiles(ctx context.Context, kind models.FileKind) ([]models.StoredFile, error) {
	path := "/api/files"
	if kind != "" {
		path += "?" + url.Values{"type": {string(kind)}}.Encode()
	}
	var out []models.StoredFile
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true)
	return out, err
}

// ListDocuments lists documents generated for the caller.
func (c *Client) ListDocuments(ctx context.Context) ([]models.StoredFile, error) {
	var out []models.StoredFile
	err := c.doJSON(ctx, http.MethodGet, "/api/documents", nil, &out, true)
	return out, err
}

func (c *Client) ConversationFiles(ctx context.Context, conversationID int64) ([]models.StoredFile, error) {
	var out []models.StoredFile
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/upload/conversations/%d/files", conversationID), nil, &out, true)
	return out, err
}

func (c *Client) ListContacts(ctx context.Context) ([]models.Contact, error) {
	var out []models.Contact
	err := c.doJSON(ctx, http.MethodGet, "/api/telegram/contacts", nil, &out, true)
	return out, err
}

func (c *Client) CreateContact(ctx context.Context, name, chatID string) (models.Contact, error) {
	var out models.Contact
	err := c.doJSON(ctx, http.MethodPost, "/api/telegram/contacts", map[string]string{"name": name, "chat_id": chatID}, &out, true)
	return out, err
}

// DeleteContact removes a contact along with its forward history.
func (c *Client) DeleteContact(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/telegram/contacts/%d", id), nil, nil, true)
}

func (c *Client) ForwardHistory(ctx context.Context) ([]models.Forward, error) {
	var out []models.Forward
	err := c.doJSON(ctx, http.MethodGet, "/api/telegram/history", nil, &out, true)
	return out, err
}

// ForwardBulk relays several messages to one contact.
func (c *Client) ForwardBulk(ctx context.Context, messageIDs []int64, contactID int64) (selection.Result, error) {
	var out selection.Result
	err := c.doJSON(ctx, http.MethodPost, "/api/telegram/forward", map[string]any{
		"message_ids": messageIDs,
		"contact_id":  contactID,
	}, &out, true)
	return out, err
}
