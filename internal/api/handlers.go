package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"secretaria/internal/auth"
	"secretaria/internal/logging"
	"secretaria/internal/service/ai"
	"secretaria/internal/service/assistant"
)

// ReplyGenerator streams assistant replies.
type ReplyGenerator interface {
	Model() string
	Stream(ctx context.Context, req ai.Request, onDelta func(string) error) (string, error)
}

// TextExtractor pulls plain text out of uploaded documents.
type TextExtractor interface {
	Supports(name string) bool
	ExtractText(ctx context.Context, path string) (string, error)
}

// Options tunes a Handler.
type Options struct {
	FileBaseDir  string
	HistoryLimit int
	Relay        Relay
}

// Handler wires HTTP routes to the assistant service and the reply generator.
type Handler struct {
	assistant    *assistant.Service
	auth         *auth.Service
	generator    ReplyGenerator
	extractor    TextExtractor
	relay        Relay
	fileBase     string
	historyLimit int
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, authService *auth.Service, generator ReplyGenerator, extractor TextExtractor, opts Options) *Handler {
	h := &Handler{
		assistant:    service,
		auth:         authService,
		generator:    generator,
		extractor:    extractor,
		relay:        opts.Relay,
		fileBase:     opts.FileBaseDir,
		historyLimit: opts.HistoryLimit,
	}
	if h.relay == nil {
		h.relay = LogRelay{}
	}
	if h.fileBase == "" {
		h.fileBase = os.TempDir()
	}
	if h.historyLimit <= 0 {
		h.historyLimit = assistant.DefaultHistory
	}
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/auth/register", h.registerUser)
	api.POST("/auth/login", h.loginUser)

	authMW := h.auth.Middleware()
	api.POST("/auth/logout", authMW, h.logoutUser)
	api.DELETE("/auth/account", authMW, h.deleteAccount)
	api.GET("/files", authMW, h.listFiles)
	api.GET("/documents", authMW, h.listDocuments)

	chat := api.Group("/chat", authMW)
	chat.GET("/conversations", h.listConversations)
	chat.POST("/conversations", h.createConversation)
	chat.PATCH("/conversations/:id", h.renameConversation)
	chat.DELETE("/conversations/:id", h.deleteConversation)
	chat.GET("/conversations/:id/messages", h.listMessages)
	chat.POST("/conversations/:id/messages", h.sendMessage)

	files := api.Group("/upload", authMW)
	files.POST("/conversations/:id/files", h.uploadFile)
	files.GET("/conversations/:id/files", h.conversationFiles)
	files.GET("/files/:id", h.downloadFile)

	relay := api.Group("/telegram", authMW)
	relay.GET("/contacts", h.listContacts)
	relay.POST("/contacts", h.createContact)
	relay.DELETE("/contacts/:id", h.deleteContact)
	relay.GET("/history", h.forwardHistory)
	relay.POST("/forward", h.forwardMessages)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return p.UserID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// respondError maps storage errors to status codes.
func respondError(c *gin.Context, err error, what string) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	logging.Logger().Error(what+" request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, assistant.ErrUserExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.respondWithToken(c, http.StatusCreated, user.ID, user.Username)
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	h.respondWithToken(c, http.StatusOK, user.ID, user.Username)
}

func (h *Handler) respondWithToken(c *gin.Context, status int, userID int64, username string) {
	token, expiresAt, err := h.auth.IssueToken(c.Request.Context(), userID)
	if err != nil {
		logging.Logger().Error("issue token failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(status, authResponse{Token: token, UserID: userID, Username: username, ExpiresAt: expiresAt})
}

func (h *Handler) logoutUser(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	if err := h.auth.RevokeToken(c.Request.Context(), p.Token); err != nil {
		respondError(c, err, "token")
		return
	}
	c.Status(http.StatusNoContent)
}

type passwordRequest struct {
	Password string `json:"password"`
}

// deleteAccount removes the signed-in user once the password is confirmed.
func (h *Handler) deleteAccount(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	ctx := c.Request.Context()
	if err := h.assistant.CheckPassword(ctx, userID, req.Password); err != nil {
		if errors.Is(err, assistant.ErrInvalidCredentials) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err, "user")
		return
	}
	if err := h.auth.RevokeUserTokens(ctx, userID); err != nil {
		respondError(c, err, "token")
		return
	}
	paths, err := h.assistant.DeleteUser(ctx, userID)
	if err != nil {
		respondError(c, err, "user")
		return
	}
	removeStored(paths)
	c.Status(http.StatusNoContent)
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.assistant.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) createConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req titleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	conv, err := h.assistant.CreateConversation(c.Request.Context(), userID, req.Title)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) renameConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	ctx := c.Request.Context()
	if err := h.assistant.RenameConversation(ctx, userID, convID, req.Title); err != nil {
		respondError(c, err, "conversation")
		return
	}
	conv, err := h.assistant.GetConversation(ctx, userID, convID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	paths, err := h.assistant.DeleteConversation(c.Request.Context(), userID, convID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	removeStored(paths)
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	messages, err := h.assistant.ListMessages(c.Request.Context(), userID, convID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, messages)
}
