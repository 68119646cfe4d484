package stream

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"secretaria/internal/models"
)

const dataPrefix = "data: "

// Event is one classified wire line. The concrete types below are the only
// implementations.
type Event interface {
	event()
}

// TextDelta carries display text, already unescaped.
type TextDelta struct {
	Text string
}

// EndOfStream is the explicit [DONE] marker.
type EndOfStream struct{}

// UserIDAssigned binds the server id of the pending user message.
type UserIDAssigned struct {
	ID int64
}

// AssistantIDAssigned binds the server id of the pending assistant message.
type AssistantIDAssigned struct {
	ID int64
}

// GeneratedFile announces a document produced for the assistant message.
type GeneratedFile struct {
	File models.FileRef
}

// Ignored covers padding, comments and malformed control tokens.
type Ignored struct {
	Reason string
}

func (TextDelta) event()           {}
func (EndOfStream) event()         {}
func (UserIDAssigned) event()      {}
func (AssistantIDAssigned) event() {}
func (GeneratedFile) event()       {}
func (Ignored) event()             {}

// Classify maps one logical line to its event.
func Classify(line string) Event {
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Ignored{Reason: "not a data line"}
	}
	if payload == "[DONE]" {
		return EndOfStream{}
	}
	if id, matched, valid := controlID(payload, "USER_MSG_ID"); matched {
		if !valid {
			return Ignored{Reason: "user message id out of range"}
		}
		return UserIDAssigned{ID: id}
	}
	if id, matched, valid := controlID(payload, "MSG_ID"); matched {
		if !valid {
			return Ignored{Reason: "message id out of range"}
		}
		return AssistantIDAssigned{ID: id}
	}
	if strings.HasPrefix(payload, "[FILE:") && strings.HasSuffix(payload, "]") {
		ref, err := parseFileToken(payload[len("[FILE:") : len(payload)-1])
		if err != nil {
			return Ignored{Reason: "malformed file token: " + err.Error()}
		}
		return GeneratedFile{File: ref}
	}
	return TextDelta{Text: strings.ReplaceAll(payload, `\n`, "\n")}
}

// controlID recognises "[NAME:digits]". matched reports the shape, valid
// whether the digits fit in an int64.
func controlID(payload, name string) (id int64, matched, valid bool) {
	rest, ok := strings.CutPrefix(payload, "["+name+":")
	if !ok {
		return 0, false, false
	}
	digits, ok := strings.CutSuffix(rest, "]")
	if !ok || digits == "" {
		return 0, false, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false, false
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, true, false
	}
	return id, true, true
}

type fileToken struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	SizeBytes *int64 `json:"size_bytes"`
	SizeCamel *int64 `json:"sizeBytes"`
}

func parseFileToken(raw string) (models.FileRef, error) {
	var tok fileToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return models.FileRef{}, err
	}
	if tok.ID == 0 || tok.Filename == "" {
		return models.FileRef{}, errMissingFileFields
	}
	size := tok.SizeBytes
	if size == nil {
		size = tok.SizeCamel
	}
	return models.FileRef{
		ID:        tok.ID,
		Filename:  tok.Filename,
		SizeBytes: size,
		Kind:      models.FileKindGenerated,
	}, nil
}

var errMissingFileFields = errors.New("id and filename are required")
