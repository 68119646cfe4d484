package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"secretaria/internal/models"
)

type uploaderFunc func(ctx context.Context, conversationID int64, filename string, body io.Reader) (models.FileRef, error)

func (f uploaderFunc) Upload(ctx context.Context, conversationID int64, filename string, body io.Reader) (models.FileRef, error) {
	return f(ctx, conversationID, filename, body)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		kind    models.FileKind
		wantErr bool
	}{
		{"report.PDF", 1024, models.FileKindDocument, false},
		{"sheet.xlsx", MaxFileBytes, models.FileKindDocument, false},
		{"photo.jpeg", 10, models.FileKindImage, false},
		{"photo.webp", 10, models.FileKindImage, false},
		{"archive.zip", 10, "", true},
		{"noext", 10, "", true},
		{"huge.pdf", MaxFileBytes + 1, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Validate(tc.name, tc.size)
			if tc.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, got.Kind)
			}
		})
	}
}

func TestSlotHappyPath(t *testing.T) {
	var seen []State
	slot := NewSlot(uploaderFunc(func(_ context.Context, convID int64, name string, body io.Reader) (models.FileRef, error) {
		data, _ := io.ReadAll(body)
		if convID != 3 || name != "notes.txt" || string(data) != "hello" {
			t.Fatalf("unexpected upload call %d %s %q", convID, name, data)
		}
		return models.FileRef{ID: 77, Filename: name}, nil
	}), WithObserver(func(s State) { seen = append(seen, s) }))

	if err := slot.Pick("notes.txt", 5); err != nil {
		t.Fatalf("pick: %v", err)
	}
	ref, err := slot.Upload(context.Background(), 3, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref.Kind != models.FileKindDocument {
		t.Fatalf("expected kind filled from the local file, got %q", ref.Kind)
	}
	if ids := slot.ReadyIDs(); len(ids) != 1 || ids[0] != 77 {
		t.Fatalf("unexpected ready ids %v", ids)
	}
	if err := slot.Pick("other.pdf", 1); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected busy slot, got %v", err)
	}
	slot.Clear()
	if slot.State() != StateEmpty || slot.ReadyIDs() != nil {
		t.Fatalf("expected cleared slot")
	}
	want := []State{StatePicked, StateUploading, StateReady, StateEmpty}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
}

func TestSlotRejectedPickStaysEmpty(t *testing.T) {
	slot := NewSlot(nil)
	if err := slot.Pick("virus.exe", 10); err == nil {
		t.Fatalf("expected rejection")
	}
	if slot.State() != StateEmpty || slot.LastError() == nil {
		t.Fatalf("expected empty slot with error, got %s", slot.State())
	}
	if _, err := slot.Upload(context.Background(), 1, strings.NewReader("")); !errors.Is(err, ErrNothingPicked) {
		t.Fatalf("expected ErrNothingPicked, got %v", err)
	}
}

func TestSlotFailedUploadAutoClears(t *testing.T) {
	var seen []State
	slot := NewSlot(uploaderFunc(func(context.Context, int64, string, io.Reader) (models.FileRef, error) {
		return models.FileRef{}, errors.New("status 413")
	}), WithObserver(func(s State) { seen = append(seen, s) }))
	if err := slot.Pick("a.png", 1); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if _, err := slot.Upload(context.Background(), 1, strings.NewReader("x")); err == nil {
		t.Fatalf("expected upload failure")
	}
	if slot.State() != StateEmpty {
		t.Fatalf("expected auto-cleared slot, got %s", slot.State())
	}
	if len(seen) < 2 || seen[len(seen)-2] != StateFailed || seen[len(seen)-1] != StateEmpty {
		t.Fatalf("expected failed then empty, got %v", seen)
	}
	if err := slot.Pick("b.png", 1); err != nil {
		t.Fatalf("slot should accept a new pick: %v", err)
	}
}

func TestSlotClearDuringUploadDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slot := NewSlot(uploaderFunc(func(context.Context, int64, string, io.Reader) (models.FileRef, error) {
		close(started)
		<-release
		return models.FileRef{ID: 1, Filename: "a.pdf"}, nil
	}))
	if err := slot.Pick("a.pdf", 1); err != nil {
		t.Fatalf("pick: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := slot.Upload(context.Background(), 1, strings.NewReader("x"))
		errCh <- err
	}()
	<-started
	if slot.State() != StateUploading {
		t.Fatalf("expected uploading, got %s", slot.State())
	}
	slot.Clear()
	close(release)
	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if slot.State() != StateEmpty || slot.ReadyIDs() != nil {
		t.Fatalf("cleared slot must stay empty")
	}
}
