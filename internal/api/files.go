package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"secretaria/internal/logging"
	"secretaria/internal/models"
	"secretaria/internal/upload"
)

// multipart overhead allowed on top of the file itself
const multipartSlack = 1 << 20

func (h *Handler) conversationDir(userID, convID int64, sub string) string {
	return filepath.Join(h.fileBase, strconv.FormatInt(userID, 10), strconv.FormatInt(convID, 10), sub)
}

// storedName prefixes a sanitized filename with a short random id so
// uploads never collide on disk.
func storedName(filename string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, filepath.Base(filename))
	if clean == "" || clean == "." || clean == ".." {
		clean = "file"
	}
	return uuid.NewString()[:8] + "_" + clean
}

func (h *Handler) uploadFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.assistant.GetConversation(ctx, userID, convID); err != nil {
		respondError(c, err, "conversation")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, upload.MaxFileBytes+multipartSlack)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	filename := filepath.Base(file.Filename)
	local, err := upload.Validate(filename, file.Size)
	if err != nil {
		status := http.StatusBadRequest
		if file.Size > upload.MaxFileBytes {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	sub := "documents"
	if local.Kind == models.FileKindImage {
		sub = "images"
	}
	destDir := h.conversationDir(userID, convID, sub)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	destPath := filepath.Join(destDir, storedName(filename))
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}

	var text string
	if local.Kind == models.FileKindDocument && h.extractor != nil && h.extractor.Supports(filename) {
		text, err = h.extractor.ExtractText(ctx, destPath)
		if err != nil {
			logging.Logger().Warn("extract text failed", "file", filename, "error", err)
		}
	}

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	stored, err := h.assistant.RecordFile(ctx, models.StoredFile{
		UserID:         userID,
		ConversationID: convID,
		Filename:       filename,
		StoredPath:     destPath,
		MimeType:       mimeType,
		SizeBytes:      file.Size,
		Kind:           local.Kind,
		ExtractedText:  text,
	})
	if err != nil {
		_ = os.Remove(destPath)
		respondError(c, err, "file")
		return
	}
	c.JSON(http.StatusCreated, stored.Ref())
}

func (h *Handler) downloadFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	stored, err := h.assistant.GetFile(c.Request.Context(), userID, fileID)
	if err != nil {
		respondError(c, err, "file")
		return
	}
	if _, err := os.Stat(stored.StoredPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.FileAttachment(stored.StoredPath, stored.Filename)
}

func (h *Handler) conversationFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	files, err := h.assistant.ConversationFiles(c.Request.Context(), userID, convID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, files)
}

// listFiles backs the file explorer; ?type= narrows it to one kind.
func (h *Handler) listFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	kind := models.FileKind(c.Query("type"))
	switch kind {
	case "", models.FileKindDocument, models.FileKindImage, models.FileKindGenerated:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
		return
	}
	h.respondFiles(c, userID, kind)
}

func (h *Handler) listDocuments(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.respondFiles(c, userID, models.FileKindGenerated)
}

func (h *Handler) respondFiles(c *gin.Context, userID int64, kind models.FileKind) {
	files, err := h.assistant.ListFiles(c.Request.Context(), userID, kind)
	if err != nil {
		respondError(c, err, "file")
		return
	}
	c.JSON(http.StatusOK, files)
}

func removeStored(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logging.Logger().Warn("remove stored file failed", "path", p, "error", err)
		}
	}
}
