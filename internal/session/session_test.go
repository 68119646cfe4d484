package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"secretaria/internal/models"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	open  func(req SendRequest) (io.ReadCloser, error)
}

func (f *fakeTransport) OpenStream(_ context.Context, req SendRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.open(req)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func bodyTransport(body string) *fakeTransport {
	return &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newTestRegistry(tr Transport, opts ...Option) *Registry {
	seq := 0
	opts = append([]Option{
		WithClock(fixedClock),
		WithLocalIDs(func() string { seq++; return fmt.Sprintf("local-%d", seq) }),
	}, opts...)
	return NewRegistry(tr, opts...)
}

func TestSendRejectsEmptyMessageWithoutNetwork(t *testing.T) {
	tr := bodyTransport("data: [DONE]\n")
	reg := newTestRegistry(tr)

	_, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "   "}, nil)
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	_, err = reg.Send(context.Background(), SendRequest{Content: "hi"}, nil)
	if !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if tr.callCount() != 0 {
		t.Fatalf("expected no transport calls, got %d", tr.callCount())
	}
	if reg.Transcript(1).Len() != 0 {
		t.Fatalf("rejected send must not touch the transcript")
	}
}

func TestSendWithOnlyAttachmentIsAccepted(t *testing.T) {
	tr := bodyTransport("data: ok\ndata: [DONE]\n")
	reg := newTestRegistry(tr)
	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, FileIDs: []int64{5}}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if s.State() != StateDone {
		t.Fatalf("expected done, got %s", s.State())
	}
}

func TestSendCommitsAssistantMessage(t *testing.T) {
	tr := bodyTransport("data: [USER_MSG_ID:6]\ndata: Hi\ndata: [MSG_ID:7]\ndata: [DONE]\n")
	var (
		bound     []models.Message
		completed models.Message
		committed bool
	)
	reg := newTestRegistry(tr)
	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 3, Content: "hello"}, RendererFuncs{
		OnMessageBound: func(m models.Message) { bound = append(bound, m) },
		OnCompleted: func(m models.Message, ok bool) {
			completed, committed = m, ok
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if s.State() != StateDone || reg.State(3) != StateIdle {
		t.Fatalf("unexpected states session=%s registry=%s", s.State(), reg.State(3))
	}
	if !committed || completed.ID == nil || *completed.ID != 7 || completed.Content != "Hi" {
		t.Fatalf("unexpected completed message %+v (committed=%v)", completed, committed)
	}
	if completed.CreatedAt == nil || !completed.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("expected settle timestamp, got %v", completed.CreatedAt)
	}
	if len(bound) != 2 || bound[0].Role != models.RoleUser || *bound[0].ID != 6 {
		t.Fatalf("unexpected bind notifications %+v", bound)
	}

	msgs := reg.Transcript(3).Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || *msgs[0].ID != 6 {
		t.Fatalf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || *msgs[1].ID != 7 {
		t.Fatalf("unexpected assistant message %+v", msgs[1])
	}
}

func TestOptimisticUserMessageHasNoID(t *testing.T) {
	tr := bodyTransport("data: [DONE]\n")
	reg := newTestRegistry(tr)
	var first models.Message
	_, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "hey"}, RendererFuncs{
		OnUserMessage: func(m models.Message) { first = m },
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.ID != nil || first.CreatedAt != nil || first.LocalID != "local-1" {
		t.Fatalf("expected optimistic message, got %+v", first)
	}
}

func TestEmptyReplyIsDiscarded(t *testing.T) {
	tr := bodyTransport("data: [USER_MSG_ID:3]\ndata: <think>only reasoning</think>\ndata: [DONE]\n")
	reg := newTestRegistry(tr)
	var committed = true
	_, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "q"}, RendererFuncs{
		OnCompleted: func(_ models.Message, ok bool) { committed = ok },
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if committed {
		t.Fatalf("expected empty reply to be discarded")
	}
	msgs := reg.Transcript(1).Messages()
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
}

func TestReplyWithOnlyGeneratedFileIsKept(t *testing.T) {
	tr := bodyTransport("data: [FILE:{\"id\":4,\"filename\":\"notes.md\"}]\ndata: [MSG_ID:8]\n")
	reg := newTestRegistry(tr)
	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "doc"}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	reply := s.Reply()
	if len(reply.Files) != 1 || reply.Files[0].Kind != models.FileKindGenerated {
		t.Fatalf("expected generated file, got %+v", reply.Files)
	}
	if reg.Transcript(1).Len() != 2 {
		t.Fatalf("expected file-only reply to be committed")
	}
}

func TestControlTokensAfterDoneStillBind(t *testing.T) {
	tr := bodyTransport("data: answer\ndata: [DONE]\ndata: [MSG_ID:11]\n")
	reg := newTestRegistry(tr)
	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "q"}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply := s.Reply(); reply.ID == nil || *reply.ID != 11 {
		t.Fatalf("expected late id to bind, got %+v", reply)
	}
}

func TestUnauthorizedFailsWithAuthExpired(t *testing.T) {
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) {
		return nil, fmt.Errorf("open stream: %w", ErrUnauthorized)
	}}
	hooked := false
	reg := newTestRegistry(tr, WithAuthExpiredHook(func() { hooked = true }))

	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 2, Content: "hi"}, nil)
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Kind != KindAuthExpired {
		t.Fatalf("expected auth expired error, got %v", err)
	}
	if s.State() != StateFailed || !hooked {
		t.Fatalf("expected failed state and hook call (state=%s hooked=%v)", s.State(), hooked)
	}
	if msgs := reg.Transcript(2).Messages(); len(msgs) != 1 {
		t.Fatalf("expected no assistant marker on auth failure, got %+v", msgs)
	}
}

func TestTransportErrorKeepsPartialText(t *testing.T) {
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) {
		body := io.MultiReader(
			strings.NewReader("data: partial answer\n"),
			iotest.ErrReader(errors.New("connection reset")),
		)
		return io.NopCloser(body), nil
	}}
	reg := newTestRegistry(tr)
	var failed *Error
	s, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "q"}, RendererFuncs{
		OnFailed: func(_ models.Message, e *Error) { failed = e },
	})
	if err == nil || failed == nil || failed.Kind != KindTransport {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", s.State())
	}
	msgs := reg.Transcript(1).Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected error marker in transcript, got %d messages", len(msgs))
	}
	if msgs[1].Content != "partial answer" || msgs[1].Failure == "" {
		t.Fatalf("unexpected error marker %+v", msgs[1])
	}
}

func TestNon2xxBecomesTransportFailure(t *testing.T) {
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) {
		return nil, errors.New("status 500: upstream down")
	}}
	reg := newTestRegistry(tr)
	_, err := reg.Send(context.Background(), SendRequest{ConversationID: 1, Content: "q"}, nil)
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if reg.Active(1) {
		t.Fatalf("failed session must release the conversation")
	}
}

func TestSecondSendRejectedWhileStreaming(t *testing.T) {
	pr, pw := io.Pipe()
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) { return pr, nil }}
	reg := newTestRegistry(tr)

	textSeen := make(chan struct{}, 1)
	s, err := reg.Start(context.Background(), SendRequest{ConversationID: 9, Content: "first"}, RendererFuncs{
		OnAssistantText: func(models.Message) {
			select {
			case textSeen <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := io.WriteString(pw, "data: Hel\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-textSeen
	if s.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", s.State())
	}

	if _, err := reg.Start(context.Background(), SendRequest{ConversationID: 9, Content: "second"}, nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if s.State() != StateStreaming || tr.callCount() != 1 {
		t.Fatalf("second send altered the running session (state=%s calls=%d)", s.State(), tr.callCount())
	}

	io.WriteString(pw, "data: lo\ndata: [DONE]\n")
	pw.Close()
	<-s.Done()
	if got := s.Reply().Content; got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
	if reg.Transcript(9).Len() != 2 {
		t.Fatalf("rejected send must not add messages")
	}
}

func TestDetachedTranscriptFinishesInBackground(t *testing.T) {
	pr, pw := io.Pipe()
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) { return pr, nil }}
	reg := newTestRegistry(tr)

	s, err := reg.Start(context.Background(), SendRequest{ConversationID: 4, Content: "hi"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	reg.Detach(4)
	io.WriteString(pw, "data: still here\ndata: [DONE]\n")
	pw.Close()
	<-s.Done()

	if s.Reply().Content != "still here" {
		t.Fatalf("detached session did not finish, reply %+v", s.Reply())
	}
	if reg.Transcript(4).Len() != 0 {
		t.Fatalf("expected a fresh transcript after detach")
	}
}

func TestLoadRefusedWhileStreaming(t *testing.T) {
	pr, pw := io.Pipe()
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) { return pr, nil }}
	reg := newTestRegistry(tr)
	s, err := reg.Start(context.Background(), SendRequest{ConversationID: 5, Content: "hi"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.Load(5, nil); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected load to be refused, got %v", err)
	}
	pw.Close()
	<-s.Done()
	reg.Wait()
	history := []models.Message{{ID: models.Int64Ptr(1), Role: models.RoleUser, Content: "old"}}
	if err := reg.Load(5, history); err != nil {
		t.Fatalf("load after settle: %v", err)
	}
	if msgs := reg.Transcript(5).Messages(); len(msgs) != 1 || msgs[0].ConversationID != 5 {
		t.Fatalf("unexpected loaded transcript %+v", msgs)
	}
}

func TestConversationAcceptsSendFromCompletionCallback(t *testing.T) {
	tr := bodyTransport("data: ok\ndata: [MSG_ID:2]\ndata: [DONE]\n")
	reg := newTestRegistry(tr)

	var (
		mu         sync.Mutex
		activeSeen bool
		second     *Session
		secondErr  error
	)
	renderer := RendererFuncs{OnCompleted: func(msg models.Message, _ bool) {
		if msg.Content != "ok" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if second != nil || secondErr != nil {
			return
		}
		activeSeen = reg.Active(1)
		second, secondErr = reg.Start(context.Background(), SendRequest{ConversationID: 1, Content: "two"}, nil)
	}}

	first, err := reg.Start(context.Background(), SendRequest{ConversationID: 1, Content: "one"}, renderer)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-first.Done()

	mu.Lock()
	defer mu.Unlock()
	if activeSeen {
		t.Fatalf("conversation still busy when Completed fired")
	}
	if secondErr != nil {
		t.Fatalf("send from Completed rejected: %v", secondErr)
	}
	<-second.Done()
	if second.Err() != nil || second.State() != StateDone {
		t.Fatalf("second send did not finish cleanly: %v", second.Err())
	}
}

func TestConversationAcceptsSendFromFailureCallback(t *testing.T) {
	calls := 0
	tr := &fakeTransport{open: func(SendRequest) (io.ReadCloser, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return io.NopCloser(strings.NewReader("data: ok\ndata: [DONE]\n")), nil
	}}
	reg := newTestRegistry(tr)

	retried := make(chan error, 1)
	renderer := RendererFuncs{OnFailed: func(models.Message, *Error) {
		_, err := reg.Start(context.Background(), SendRequest{ConversationID: 2, Content: "retry"}, nil)
		retried <- err
	}}
	first, err := reg.Start(context.Background(), SendRequest{ConversationID: 2, Content: "hi"}, renderer)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-first.Done()
	if err := <-retried; err != nil {
		t.Fatalf("retry from Failed rejected: %v", err)
	}
	reg.Wait()
}
