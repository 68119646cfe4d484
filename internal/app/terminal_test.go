package app

import (
	"bytes"
	"strings"
	"testing"

	"secretaria/internal/models"
	"secretaria/internal/session"
	"secretaria/internal/upload"
)

func TestTerminalStreamsOnlyNewText(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	msg := models.Message{LocalID: "r1", Role: models.RoleAssistant}
	for _, text := range []string{"Hel", "Hello", "Hello there"} {
		msg.Content = text
		term.AssistantText(msg)
	}
	id := int64(7)
	msg.ID = &id
	term.Completed(msg, true)

	if got, want := out.String(), "assistant> Hello there  (#7)\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestTerminalReprintsShrunkReply(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	msg := models.Message{LocalID: "r1", Content: "Draft"}
	term.AssistantText(msg)
	msg.Content = "Dr"
	term.AssistantText(msg)
	term.Completed(msg, false)

	want := "assistant> Draft\nassistant> Dr\n  (reply discarded)\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestTerminalNoticesAndFailures(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	term.AttachmentState(upload.StateEmpty, upload.LocalFile{})
	term.AttachmentState(upload.StateReady, upload.LocalFile{Name: "plan.txt"})
	term.Notice("Forwarded 2 message(s)")
	term.Completed(models.Message{LocalID: "r2"}, false)
	term.Failed(models.Message{LocalID: "r3"}, &session.Error{Kind: session.KindTransport, Message: "connection lost"})

	want := strings.Join([]string{
		"* attachment plan.txt: ready",
		"* Forwarded 2 message(s)",
		"  (no reply)",
		"! connection lost",
		"",
	}, "\n")
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestTerminalTranscriptMarksSelection(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	one, two := int64(1), int64(2)
	size := int64(12)
	msgs := []models.Message{
		{ID: &one, Role: models.RoleUser, Content: "hi", Files: []models.FileRef{{ID: 4, Filename: "a.txt", SizeBytes: &size}}},
		{ID: &two, Role: models.RoleAssistant, Content: "hello", Failure: "stream interrupted"},
		{Role: models.RoleUser, Content: "pending"},
	}
	term.Transcript(msgs, func(id int64) bool { return id == 2 })

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("unexpected transcript: %q", out.String())
	}
	if lines[0] != "     1 you> hi [a.txt (#4)]" {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[1] != "*    2 assistant> hello" {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "! stream interrupted") {
		t.Fatalf("line 2 = %q", lines[2])
	}
	if lines[3] != "     - you> pending" {
		t.Fatalf("line 3 = %q", lines[3])
	}

	out.Reset()
	term.Transcript(nil, nil)
	if out.String() != "  (empty conversation)\n" {
		t.Fatalf("empty transcript = %q", out.String())
	}
}
