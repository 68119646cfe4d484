package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"secretaria/internal/models"
)

type State int

const (
	StateEmpty State = iota
	StatePicked
	StateUploading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePicked:
		return "picked"
	case StateUploading:
		return "uploading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrSlotBusy      = errors.New("an attachment is already uploading or attached")
	ErrNothingPicked = errors.New("no file picked")
	ErrCancelled     = errors.New("upload cleared before it finished")
)

// Uploader sends a file to the upload service.
type Uploader interface {
	Upload(ctx context.Context, conversationID int64, filename string, body io.Reader) (models.FileRef, error)
}

// Slot holds at most one pending attachment for the composer.
type Slot struct {
	uploader Uploader
	observe  func(State)

	mu      sync.Mutex
	state   State
	local   LocalFile
	remote  *models.FileRef
	gen     uint64
	lastErr error
}

type SlotOption func(*Slot)

// WithObserver is called after every state change, outside the slot lock.
func WithObserver(fn func(State)) SlotOption {
	return func(s *Slot) { s.observe = fn }
}

func NewSlot(uploader Uploader, opts ...SlotOption) *Slot {
	s := &Slot{uploader: uploader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// File returns the picked file and, once ready, its remote descriptor.
func (s *Slot) File() (LocalFile, *models.FileRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return s.local, nil
	}
	ref := *s.remote
	return s.local, &ref
}

// LastError returns the error of the most recent failed pick or upload.
func (s *Slot) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pick validates and holds a local file. An invalid file leaves the slot
// empty.
func (s *Slot) Pick(name string, size int64) error {
	s.mu.Lock()
	if s.state == StateUploading || s.state == StateReady {
		s.mu.Unlock()
		return ErrSlotBusy
	}
	local, err := Validate(name, size)
	if err != nil {
		s.resetLocked()
		s.lastErr = err
		s.mu.Unlock()
		s.notify(StateEmpty)
		return err
	}
	s.local = local
	s.remote = nil
	s.state = StatePicked
	s.lastErr = nil
	s.mu.Unlock()
	s.notify(StatePicked)
	return nil
}

// Upload sends the picked file. A failure passes through Failed and leaves
// the slot empty. A Clear issued while the upload runs wins over its result.
func (s *Slot) Upload(ctx context.Context, conversationID int64, body io.Reader) (models.FileRef, error) {
	s.mu.Lock()
	if s.state != StatePicked {
		s.mu.Unlock()
		return models.FileRef{}, ErrNothingPicked
	}
	s.state = StateUploading
	s.gen++
	gen := s.gen
	name := s.local.Name
	s.mu.Unlock()
	s.notify(StateUploading)

	ref, err := s.uploader.Upload(ctx, conversationID, name, body)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return models.FileRef{}, ErrCancelled
	}
	if err != nil {
		s.state = StateFailed
		s.lastErr = fmt.Errorf("upload %s: %w", name, err)
		s.mu.Unlock()
		s.notify(StateFailed)

		s.mu.Lock()
		if s.gen == gen {
			s.resetLocked()
		}
		uerr := s.lastErr
		s.mu.Unlock()
		s.notify(StateEmpty)
		return models.FileRef{}, uerr
	}
	if ref.Kind == "" {
		ref.Kind = s.local.Kind
	}
	s.remote = &ref
	s.state = StateReady
	s.mu.Unlock()
	s.notify(StateReady)
	return ref, nil
}

// ReadyIDs returns the remote id to attach to a send, or nil unless Ready.
func (s *Slot) ReadyIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.remote == nil {
		return nil
	}
	return []int64{s.remote.ID}
}

// ReadyFiles mirrors ReadyIDs with full descriptors.
func (s *Slot) ReadyFiles() []models.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.remote == nil {
		return nil
	}
	return []models.FileRef{*s.remote}
}

// Clear empties the slot from any state.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.gen++
	s.resetLocked()
	s.lastErr = nil
	s.mu.Unlock()
	s.notify(StateEmpty)
}

func (s *Slot) resetLocked() {
	s.state = StateEmpty
	s.local = LocalFile{}
	s.remote = nil
}

func (s *Slot) notify(st State) {
	if s.observe != nil {
		s.observe(st)
	}
}
