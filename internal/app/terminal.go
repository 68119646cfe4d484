package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"secretaria/internal/models"
	"secretaria/internal/session"
	"secretaria/internal/upload"
)

// Terminal renders the conversation as plain text lines.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]string // assistant LocalID -> text already written
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, printed: make(map[string]string)}
}

func (t *Terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) UserMessage(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("you> %s%s\n", msg.Content, filesSuffix(msg.Files))
}

// AssistantText writes only what was added since the last call. When the
// visible text shrank (a reasoning block opened) the reply is reprinted.
func (t *Terminal) AssistantText(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, started := t.printed[msg.LocalID]
	switch {
	case !started:
		t.printf("assistant> %s", msg.Content)
	case strings.HasPrefix(msg.Content, prev):
		t.printf("%s", msg.Content[len(prev):])
	default:
		t.printf("\nassistant> %s", msg.Content)
	}
	t.printed[msg.LocalID] = msg.Content
}

func (t *Terminal) AssistantFile(msg models.Message, file models.FileRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, started := t.printed[msg.LocalID]; !started {
		t.printf("assistant>")
		t.printed[msg.LocalID] = ""
	}
	t.printf("\n  [file %d] %s%s", file.ID, file.Filename, sizeSuffix(file.SizeBytes))
}

func (t *Terminal) MessageBound(models.Message) {}

func (t *Terminal) Completed(msg models.Message, committed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, started := t.printed[msg.LocalID]
	delete(t.printed, msg.LocalID)
	switch {
	case started && committed:
		if msg.ID != nil {
			t.printf("  (#%d)\n", *msg.ID)
		} else {
			t.printf("\n")
		}
	case started:
		t.printf("\n  (reply discarded)\n")
	default:
		t.printf("  (no reply)\n")
	}
}

func (t *Terminal) Failed(msg models.Message, err *session.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, started := t.printed[msg.LocalID]; started {
		t.printf("\n")
	}
	delete(t.printed, msg.LocalID)
	t.printf("! %s\n", err.Message)
}

func (t *Terminal) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("* %s\n", text)
}

func (t *Terminal) AttachmentState(state upload.State, file upload.LocalFile) {
	if state == upload.StateEmpty {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("* attachment %s: %s\n", file.Name, state)
}

// Transcript prints a whole conversation, marking selected messages.
func (t *Terminal) Transcript(msgs []models.Message, selected func(int64) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(msgs) == 0 {
		t.printf("  (empty conversation)\n")
		return
	}
	for _, m := range msgs {
		mark := "  "
		id := "   -"
		if m.ID != nil {
			id = fmt.Sprintf("%4d", *m.ID)
			if selected != nil && selected(*m.ID) {
				mark = "* "
			}
		}
		who := "you"
		if m.Role == models.RoleAssistant {
			who = "assistant"
		}
		t.printf("%s%s %s> %s%s\n", mark, id, who, m.Content, filesSuffix(m.Files))
		if m.Failure != "" {
			t.printf("         ! %s\n", m.Failure)
		}
	}
}

func filesSuffix(files []models.FileRef) string {
	if len(files) == 0 {
		return ""
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, fmt.Sprintf("%s (#%d)", f.Filename, f.ID))
	}
	return " [" + strings.Join(names, ", ") + "]"
}

func sizeSuffix(size *int64) string {
	if size == nil {
		return ""
	}
	return fmt.Sprintf(" (%d bytes)", *size)
}
