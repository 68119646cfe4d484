package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey string

const ctxKeyConversation ctxKey = "conversation_id"

var (
	logger atomic.Pointer[slog.Logger]

	debugEnabled = strings.EqualFold(os.Getenv("SECRETARIA_DEBUG"), "1")
)

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Configure replaces the process logger. The terminal client points it at a
// file or stderr so log lines do not interleave with the transcript.
func Configure(w io.Writer, json bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debugEnabled {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger.Store(slog.New(h))
}

func Logger() *slog.Logger {
	return logger.Load()
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return Logger().With(kv...)
}

// WithConversation stores a conversation id in the context.
func WithConversation(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKeyConversation, id)
}

// FromContext adds conversation_id if present.
func FromContext(ctx context.Context) *slog.Logger {
	id, ok := ctx.Value(ctxKeyConversation).(int64)
	if !ok {
		return Logger()
	}
	return Logger().With("conversation_id", id)
}

// Debugf logs only when SECRETARIA_DEBUG=1.
func Debugf(format string, args ...any) {
	if debugEnabled {
		Logger().Debug(fmt.Sprintf(format, args...))
	}
}
