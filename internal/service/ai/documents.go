package ai

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// MaxExtractedChars caps the text kept per uploaded document.
const MaxExtractedChars = 50000

// extensions whose bytes are plain text; other formats are stored without text
var textExtensions = map[string]bool{".txt": true, ".md": true}

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extractor reads uploaded documents into plain text.
type Extractor struct {
	loader *file.FileLoader
}

func NewExtractor(ctx context.Context) (*Extractor, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{loader: loader}, nil
}

// Supports reports whether text can be extracted from files named like name.
func (e *Extractor) Supports(name string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}

// ExtractText loads path and returns its text, truncated to MaxExtractedChars.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if !e.Supports(path) {
		return "", ErrUnsupportedFormat
	}
	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	return truncateRunes(strings.TrimSpace(builder.String()), MaxExtractedChars), nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// RenderDocument formats a reply as a downloadable file. format is "md" or
// "txt"; anything else falls back to md.
func RenderDocument(format, title, body string) (filename string, content []byte, mimeType string) {
	base := slug(title)
	switch strings.ToLower(format) {
	case "txt":
		return base + ".txt", []byte(body + "\n"), "text/plain; charset=utf-8"
	default:
		return base + ".md", []byte("# " + title + "\n\n" + body + "\n"), "text/markdown; charset=utf-8"
	}
}

func slug(title string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "document"
	}
	return out
}
