package session

import (
	"errors"
	"fmt"
)

// Kind classifies why a send did not complete.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthExpired
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthExpired:
		return "auth_expired"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the user-facing failure of a send. Message is always readable as is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind and message, so callers can compare
// against the exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && e.Message == other.Message
}

var (
	ErrEmptyMessage   = &Error{Kind: KindValidation, Message: "write a message or attach a file first"}
	ErrNoConversation = &Error{Kind: KindValidation, Message: "no conversation selected"}
	ErrSessionActive  = &Error{Kind: KindValidation, Message: "a reply is still streaming in this conversation"}

	// ErrUnauthorized is returned by a Transport when the backend rejects
	// the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

func authExpired(err error) *Error {
	return &Error{Kind: KindAuthExpired, Message: "your session expired, please sign in again", Err: err}
}

func transportFailure(err error) *Error {
	return &Error{Kind: KindTransport, Message: "the reply could not be completed", Err: err}
}
