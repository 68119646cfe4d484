package stream

import (
	"regexp"
	"strings"
)

var (
	closedThinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkTag     = regexp.MustCompile(`(?i)<think>`)
)

// VisibleText returns the displayable part of the accumulated reply: closed
// <think> blocks are removed, an unclosed one hides everything after its
// opening tag, and surrounding whitespace is trimmed.
func VisibleText(full string) string {
	text := closedThinkBlock.ReplaceAllString(full, "")
	if loc := openThinkTag.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return strings.TrimSpace(text)
}

// Accumulator keeps the raw reply text and recomputes the visible text from
// the whole of it on every append.
type Accumulator struct {
	raw strings.Builder
}

func (a *Accumulator) Append(delta string) string {
	a.raw.WriteString(delta)
	return VisibleText(a.raw.String())
}

func (a *Accumulator) Raw() string {
	return a.raw.String()
}

func (a *Accumulator) Visible() string {
	return VisibleText(a.raw.String())
}
