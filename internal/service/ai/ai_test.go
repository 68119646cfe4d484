package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"secretaria/internal/config"
	"secretaria/internal/models"
)

func TestEchoGeneratorStreamsDeltas(t *testing.T) {
	cfg := config.Default()
	gen, err := NewGenerator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if gen.Model() != "echo" {
		t.Fatalf("model = %q", gen.Model())
	}

	var deltas []string
	full, err := gen.Stream(context.Background(), Request{
		History: []models.Message{
			{Role: models.RoleUser, Content: "earlier"},
			{Role: models.RoleAssistant, Content: "ok"},
			{Role: models.RoleUser, Content: "hello there"},
		},
		Documents: []Document{{Name: "a.txt", Text: "alpha"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(deltas, "") != full {
		t.Fatalf("deltas do not add up to full reply: %q vs %q", strings.Join(deltas, ""), full)
	}
	if !strings.HasPrefix(full, "<think>") {
		t.Fatalf("expected reasoning block first: %q", full)
	}
	if !strings.HasSuffix(full, "You said: hello there") {
		t.Fatalf("unexpected reply: %q", full)
	}
	if !strings.Contains(full, "I read 1 attached document(s).") {
		t.Fatalf("document context not seen: %q", full)
	}
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	gen, err := NewGenerator(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	stop := errors.New("client gone")
	_, err = gen.Stream(context.Background(), Request{
		History: []models.Message{{Role: models.RoleUser, Content: "x"}},
	}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := gen.Stream(context.Background(), Request{}, nil); err == nil {
		t.Fatalf("expected error for empty history")
	}
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.BasicConfig.DefaultProvider = "mystery"
	if _, err := NewGenerator(context.Background(), cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExtractText(t *testing.T) {
	ext, err := NewExtractor(context.Background())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	dir := t.TempDir()
	small := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(small, []byte("  meeting at noon \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := ext.ExtractText(context.Background(), small)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "meeting at noon" {
		t.Fatalf("text = %q", text)
	}

	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, []byte(strings.Repeat("ü", MaxExtractedChars+10)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err = ext.ExtractText(context.Background(), big)
	if err != nil {
		t.Fatalf("ExtractText big: %v", err)
	}
	if n := len([]rune(text)); n != MaxExtractedChars {
		t.Fatalf("extracted %d chars, want %d", n, MaxExtractedChars)
	}

	if _, err := ext.ExtractText(context.Background(), filepath.Join(dir, "scan.pdf")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRenderDocument(t *testing.T) {
	name, body, mime := RenderDocument("md", "Quarterly Report: Q3!", "numbers")
	if name != "quarterly-report-q3.md" || !strings.HasPrefix(mime, "text/markdown") {
		t.Fatalf("md: %q %q", name, mime)
	}
	if string(body) != "# Quarterly Report: Q3!\n\nnumbers\n" {
		t.Fatalf("md body: %q", body)
	}
	name, body, _ = RenderDocument("TXT", "???", "plain")
	if name != "document.txt" || string(body) != "plain\n" {
		t.Fatalf("txt: %q %q", name, body)
	}
}

func TestToolRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newToolRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("first two calls should pass")
	}
	if l.Allow("a") {
		t.Fatalf("third call should be limited")
	}
	if !l.Allow("b") {
		t.Fatalf("other keys are independent")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow("a") {
		t.Fatalf("window should have slid")
	}
}
