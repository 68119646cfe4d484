package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader hands out the given chunks one Read at a time.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func readAllLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	fr := NewFrameReader(r)
	var lines []string
	for {
		line, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("next line: %v", err)
		}
		lines = append(lines, line)
	}
}

func TestFrameReaderDropsDanglingLine(t *testing.T) {
	lines := readAllLines(t, strings.NewReader("data: a\ndata: b\r\n\ndata: partial"))
	want := []string{"data: a", "data: b", ""}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d (%q)", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: want %q got %q", i, want[i], lines[i])
		}
	}
}

func TestFrameReaderReassemblesSplitRunes(t *testing.T) {
	body := []byte("data: olá 世界\n")
	lines := readAllLines(t, iotest.OneByteReader(strings.NewReader(string(body))))
	if len(lines) != 1 || lines[0] != "data: olá 世界" {
		t.Fatalf("unexpected lines %q", lines)
	}

	// split inside the three-byte encoding of 世
	cut := strings.Index(string(body), "世") + 1
	lines = readAllLines(t, &chunkReader{chunks: [][]byte{body[:cut], body[cut:]}})
	if len(lines) != 1 || lines[0] != "data: olá 世界" {
		t.Fatalf("unexpected lines after split %q", lines)
	}
}

func TestFrameReaderReplacesInvalidUTF8(t *testing.T) {
	lines := readAllLines(t, strings.NewReader("data: a\xffb\n"))
	if len(lines) != 1 || lines[0] != "data: a\uFFFDb" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestFrameReaderRejectsOversizedLine(t *testing.T) {
	fr := NewFrameReader(strings.NewReader(strings.Repeat("x", MaxLineBytes+10) + "\n"))
	if _, err := fr.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected a too-long error, got %v", err)
	}
}
