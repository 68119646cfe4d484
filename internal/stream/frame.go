package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// MaxLineBytes bounds a single wire line; longer lines fail the read.
const MaxLineBytes = 1 << 20

// FrameReader turns a chunked response body into complete logical lines.
// Lines are split on raw bytes before decoding, so a multi-byte character
// split across transport chunks is reassembled before it is decoded.
type FrameReader struct {
	scanner *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	scanner.Split(scanTerminatedLines)
	return &FrameReader{scanner: scanner}
}

// Next returns the next complete line without its terminator. It reads from
// the underlying body only when no buffered line is left, and returns io.EOF
// once the body is exhausted.
func (f *FrameReader) Next() (string, error) {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := bytes.TrimSuffix(f.scanner.Bytes(), []byte{'\r'})
	return strings.ToValidUTF8(string(line), "\uFFFD"), nil
}

// scanTerminatedLines is bufio.ScanLines without the final-fragment rule:
// an unterminated remainder at EOF is dropped instead of emitted.
func scanTerminatedLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
