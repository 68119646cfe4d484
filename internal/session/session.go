package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"secretaria/internal/logging"
	"secretaria/internal/models"
	"secretaria/internal/stream"
)

// State is the lifecycle position of one send.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateSettling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateSettling:
		return "settling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SendRequest is the body of one send plus the attachment descriptors shown
// on the optimistic user message.
type SendRequest struct {
	ConversationID int64
	Content        string
	UseSearch      bool
	GenerateDoc    bool
	DocFormat      string
	FileIDs        []int64
	Files          []models.FileRef
}

// Transport opens the reply stream for a send. It returns ErrUnauthorized
// (possibly wrapped) when the backend answers 401.
type Transport interface {
	OpenStream(ctx context.Context, req SendRequest) (io.ReadCloser, error)
}

// Session owns one request/response cycle for one conversation.
type Session struct {
	req        SendRequest
	transport  Transport
	renderer   Renderer
	transcript *Transcript
	now        func() time.Time

	mu    sync.Mutex
	state State
	err   *Error

	acc        stream.Accumulator
	user       *models.Message
	reply      *models.Message
	replyShown bool

	onAuthExpired func()
	release       func()
	done          chan struct{}
}

func (s *Session) ConversationID() int64 {
	return s.req.ConversationID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure, or nil once the session finished cleanly or is
// still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// Done is closed when the session reaches Done or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// UserMessage returns a snapshot of the optimistic user message.
func (s *Session) UserMessage() models.Message {
	return s.transcript.mutate(s.user, func(*models.Message) {})
}

// Reply returns a snapshot of the assistant message.
func (s *Session) Reply() models.Message {
	return s.transcript.mutate(s.reply, func(*models.Message) {})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) begin() {
	snap := s.transcript.mutate(s.user, func(*models.Message) {})
	s.transcript.append(s.user)
	s.setState(StateSending)
	s.renderer.UserMessage(snap)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	log := logging.FromContext(logging.WithConversation(ctx, s.req.ConversationID))

	body, err := s.transport.OpenStream(ctx, s.req)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.fail(authExpired(err))
			if s.onAuthExpired != nil {
				s.onAuthExpired()
			}
			return
		}
		log.Warn("open stream failed", "error", err)
		s.fail(transportFailure(err))
		return
	}
	defer body.Close()
	s.setState(StateStreaming)

	frames := stream.NewFrameReader(body)
	for {
		line, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn("stream interrupted", "error", err)
			s.fail(transportFailure(err))
			return
		}
		s.dispatch(stream.Classify(line))
	}
	s.settle()
}

func (s *Session) dispatch(ev stream.Event) {
	switch ev := ev.(type) {
	case stream.TextDelta:
		visible := s.acc.Append(ev.Text)
		snap := s.transcript.mutate(s.reply, func(m *models.Message) { m.Content = visible })
		if visible == "" && !s.replyShown {
			return
		}
		s.showReply()
		s.renderer.AssistantText(snap)
	case stream.UserIDAssigned:
		id := ev.ID
		now := s.now()
		snap := s.transcript.mutate(s.user, func(m *models.Message) {
			m.ID = &id
			m.CreatedAt = &now
		})
		s.renderer.MessageBound(snap)
	case stream.AssistantIDAssigned:
		id := ev.ID
		snap := s.transcript.mutate(s.reply, func(m *models.Message) { m.ID = &id })
		if s.replyShown {
			s.renderer.MessageBound(snap)
		}
	case stream.GeneratedFile:
		snap := s.transcript.mutate(s.reply, func(m *models.Message) {
			m.Files = append(m.Files, ev.File)
		})
		s.showReply()
		s.renderer.AssistantFile(snap, ev.File)
	case stream.EndOfStream:
		// Lines after [DONE] are still drained so late control tokens bind.
		s.setState(StateSettling)
	case stream.Ignored:
		logging.Debugf("conversation %d: ignored line: %s", s.req.ConversationID, ev.Reason)
	}
}

func (s *Session) showReply() {
	if s.replyShown {
		return
	}
	s.replyShown = true
	s.transcript.append(s.reply)
}

func (s *Session) settle() {
	s.setState(StateSettling)
	now := s.now()
	var keep bool
	snap := s.transcript.mutate(s.reply, func(m *models.Message) {
		m.Content = s.acc.Visible()
		keep = m.Content != "" || len(m.Files) > 0
		if keep {
			m.CreatedAt = &now
		}
	})
	if keep {
		s.showReply()
	} else if s.replyShown {
		s.transcript.remove(s.reply)
		s.replyShown = false
	}
	s.setState(StateDone)
	// The conversation accepts a new send before the renderer hears about it.
	s.release()
	s.renderer.Completed(snap, keep)
}

func (s *Session) fail(err *Error) {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()
	s.release()

	if err.Kind == KindAuthExpired {
		if s.replyShown {
			s.transcript.remove(s.reply)
			s.replyShown = false
		}
		s.renderer.Failed(s.Reply(), err)
		return
	}
	snap := s.transcript.mutate(s.reply, func(m *models.Message) {
		m.Content = s.acc.Visible()
		m.Failure = err.Message
	})
	s.showReply()
	s.renderer.Failed(snap, err)
}
