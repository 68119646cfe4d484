package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"secretaria/internal/logging"
	"secretaria/internal/models"
	"secretaria/internal/service/ai"
	"secretaria/internal/stream"
)

const replyTimeout = 2 * time.Minute

type sendRequest struct {
	Content     string  `json:"content"`
	UseSearch   bool    `json:"use_search"`
	GenerateDoc bool    `json:"generate_doc"`
	DocFormat   string  `json:"doc_format"`
	FileIDs     []int64 `json:"file_ids"`
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// lineWriter emits one "data:" line per call and flushes it.
type lineWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
	// previous delta ended in \r, so a leading \n completes that line break
	lastCR bool
}

func (lw *lineWriter) send(payload string) error {
	if _, err := fmt.Fprintf(lw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	lw.flusher.Flush()
	return nil
}

// text escapes newlines so a delta stays on one line. CRLF and lone CR both
// count as one newline, also when a CRLF pair is split across deltas.
func (lw *lineWriter) text(delta string) error {
	if lw.lastCR && strings.HasPrefix(delta, "\n") {
		delta = delta[1:]
	}
	lw.lastCR = strings.HasSuffix(delta, "\r")
	if delta == "" {
		return nil
	}
	return lw.send(strings.ReplaceAll(newlines.Replace(delta), "\n", `\n`))
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.FileIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or file_ids required"})
		return
	}

	ctx := c.Request.Context()
	conv, err := h.assistant.GetConversation(ctx, userID, convID)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	files, err := h.assistant.FilesByIDs(ctx, userID, convID, req.FileIDs)
	if err != nil {
		respondError(c, err, "file")
		return
	}
	if len(files) != len(uniqueIDs(req.FileIDs)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown file id"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	userMsg, err := h.assistant.AddMessage(ctx, userID, convID, models.RoleUser, content, "")
	if err != nil {
		respondError(c, err, "message")
		return
	}
	ids := make([]int64, 0, len(files))
	docs := make([]ai.Document, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
		if f.Kind == models.FileKindDocument {
			docs = append(docs, ai.Document{Name: f.Filename, Text: f.ExtractedText})
		}
	}
	if err := h.assistant.AttachFiles(ctx, *userMsg.ID, ids); err != nil {
		respondError(c, err, "file")
		return
	}
	if content != "" {
		if _, err := h.assistant.AutoTitle(ctx, userID, convID, content); err != nil {
			logging.Logger().Warn("auto title failed", "conversation_id", convID, "error", err)
		}
	}
	history, err := h.assistant.RecentHistory(ctx, convID, h.historyLimit)
	if err != nil {
		respondError(c, err, "message")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	out := &lineWriter{w: c.Writer, flusher: flusher}
	log := logging.WithFields("conversation_id", convID, "user_id", userID)
	if err := out.send(fmt.Sprintf("[USER_MSG_ID:%d]", *userMsg.ID)); err != nil {
		return
	}

	streamCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	full, genErr := h.generator.Stream(streamCtx, ai.Request{
		UserID:    userID,
		History:   history,
		Documents: docs,
		UseSearch: req.UseSearch,
	}, out.text)
	visible := stream.VisibleText(newlines.Replace(full))
	if genErr != nil {
		if ctx.Err() != nil {
			log.Info("client went away during reply", "error", genErr)
		} else {
			log.Error("reply generation failed", "error", genErr)
			const notice = "\n\n[reply interrupted]"
			_ = out.text(notice)
			visible = strings.TrimSpace(visible + notice)
		}
	}
	if visible == "" && !req.GenerateDoc {
		_ = out.send("[DONE]")
		return
	}

	// persist with a fresh context so a disconnect does not lose the reply
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	reply, err := h.assistant.AddMessage(saveCtx, userID, convID, models.RoleAssistant, visible, h.generator.Model())
	if err != nil {
		log.Error("persist reply failed", "error", err)
		_ = out.send("[DONE]")
		return
	}

	if req.GenerateDoc && visible != "" && genErr == nil {
		ref, err := h.writeGeneratedDocument(saveCtx, userID, conv, *reply.ID, req.DocFormat, visible)
		if err != nil {
			log.Error("generate document failed", "error", err)
		} else if payload, err := json.Marshal(ref); err == nil {
			_ = out.send("[FILE:" + string(payload) + "]")
		}
	}
	_ = out.send(fmt.Sprintf("[MSG_ID:%d]", *reply.ID))
	_ = out.send("[DONE]")
}

func (h *Handler) writeGeneratedDocument(ctx context.Context, userID int64, conv *models.Conversation, messageID int64, format, body string) (models.FileRef, error) {
	name, content, mimeType := ai.RenderDocument(format, conv.Title, body)
	dir := h.conversationDir(userID, conv.ID, "generated")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.FileRef{}, fmt.Errorf("create directory: %w", err)
	}
	path := filepath.Join(dir, storedName(name))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return models.FileRef{}, fmt.Errorf("write document: %w", err)
	}
	stored, err := h.assistant.RecordFile(ctx, models.StoredFile{
		UserID:         userID,
		ConversationID: conv.ID,
		MessageID:      &messageID,
		Filename:       name,
		StoredPath:     path,
		MimeType:       mimeType,
		SizeBytes:      int64(len(content)),
		Kind:           models.FileKindGenerated,
	})
	if err != nil {
		_ = os.Remove(path)
		return models.FileRef{}, err
	}
	return stored.Ref(), nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
