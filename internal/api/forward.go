package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"secretaria/internal/logging"
	"secretaria/internal/models"
)

// Relay delivers a message to an external contact.
type Relay interface {
	Deliver(ctx context.Context, contact models.Contact, msg models.Message) error
}

// LogRelay records deliveries in the log instead of sending them anywhere.
type LogRelay struct{}

func (LogRelay) Deliver(ctx context.Context, contact models.Contact, msg models.Message) error {
	logging.Logger().Info("forward message",
		"contact", contact.Name,
		"chat_id", contact.ChatID,
		"message_id", *msg.ID,
		"chars", len(msg.Content),
	)
	return nil
}

type contactRequest struct {
	Name   string `json:"name"`
	ChatID string `json:"chat_id"`
}

type forwardRequest struct {
	MessageIDs []int64 `json:"message_ids"`
	ContactID  int64   `json:"contact_id"`
}

type forwardResponse struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) listContacts(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	contacts, err := h.assistant.ListContacts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "contact")
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *Handler) createContact(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	contact, err := h.assistant.CreateContact(c.Request.Context(), userID, req.Name, req.ChatID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *Handler) deleteContact(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	contactID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.assistant.DeleteContact(c.Request.Context(), userID, contactID); err != nil {
		respondError(c, err, "contact")
		return
	}
	c.Status(http.StatusNoContent)
}

// forwardHistory lists every forward attempt with its delivery status.
func (h *Handler) forwardHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	forwards, err := h.assistant.ListForwards(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "forward")
		return
	}
	c.JSON(http.StatusOK, forwards)
}

func (h *Handler) forwardMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 || req.ContactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_ids and contact_id are required"})
		return
	}
	ctx := c.Request.Context()
	contact, err := h.assistant.GetContact(ctx, userID, req.ContactID)
	if err != nil {
		respondError(c, err, "contact")
		return
	}
	ids := uniqueIDs(req.MessageIDs)
	messages, err := h.assistant.MessagesByIDs(ctx, userID, ids)
	if err != nil {
		respondError(c, err, "message")
		return
	}
	if len(messages) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	sent := 0
	for _, msg := range messages {
		record := models.Forward{UserID: userID, ContactID: contact.ID, MessageID: *msg.ID, Status: models.ForwardSent}
		if err := h.relay.Deliver(ctx, *contact, msg); err != nil {
			record.Status = models.ForwardError
			record.Detail = err.Error()
		} else {
			sent++
		}
		if _, err := h.assistant.RecordForward(ctx, record); err != nil {
			logging.Logger().Warn("record forward failed", "message_id", *msg.ID, "error", err)
		}
	}

	resp := forwardResponse{OK: sent == len(ids)}
	switch {
	case sent == 0:
		resp.Detail = "no messages could be forwarded"
	case !resp.OK:
		resp.Detail = fmt.Sprintf("forwarded %d of %d messages", sent, len(ids))
	}
	c.JSON(http.StatusOK, resp)
}
