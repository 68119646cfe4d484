package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"secretaria/internal/models"
)

// Registry holds the transcripts of every open conversation and admits at
// most one running session per conversation.
type Registry struct {
	transport     Transport
	now           func() time.Time
	newLocalID    func() string
	onAuthExpired func()

	mu          sync.Mutex
	transcripts map[int64]*Transcript
	active      map[int64]*Session
	wg          sync.WaitGroup
}

type Option func(*Registry)

// WithClock overrides the timestamp source used when messages settle.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithAuthExpiredHook registers the callback run after a send is rejected
// with 401.
func WithAuthExpiredHook(fn func()) Option {
	return func(r *Registry) { r.onAuthExpired = fn }
}

// WithLocalIDs overrides the generator of optimistic message keys.
func WithLocalIDs(fn func() string) Option {
	return func(r *Registry) { r.newLocalID = fn }
}

func NewRegistry(transport Transport, opts ...Option) *Registry {
	r := &Registry{
		transport:   transport,
		now:         time.Now,
		newLocalID:  uuid.NewString,
		transcripts: make(map[int64]*Transcript),
		active:      make(map[int64]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transcript returns the transcript of a conversation, creating an empty
// one on first use.
func (r *Registry) Transcript(conversationID int64) *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptLocked(conversationID)
}

func (r *Registry) transcriptLocked(conversationID int64) *Transcript {
	t, ok := r.transcripts[conversationID]
	if !ok {
		t = newTranscript(conversationID)
		r.transcripts[conversationID] = t
	}
	return t
}

// Load replaces a conversation's transcript with history fetched from the
// conversation store. It is refused while a session is running there.
func (r *Registry) Load(conversationID int64, history []models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[conversationID]; busy {
		return ErrSessionActive
	}
	r.transcriptLocked(conversationID).replace(history)
	return nil
}

// Detach forgets a conversation's transcript. A session still running there
// keeps writing to the detached copy, which is then dropped.
func (r *Registry) Detach(conversationID int64) {
	r.mu.Lock()
	delete(r.transcripts, conversationID)
	r.mu.Unlock()
}

// Reset drops every transcript, as on logout. Running sessions are left to
// finish against their detached transcripts.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.transcripts = make(map[int64]*Transcript)
	r.mu.Unlock()
}

func (r *Registry) Active(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[conversationID]
	return ok
}

// State reports the state of the running session, or StateIdle.
func (r *Registry) State(conversationID int64) State {
	r.mu.Lock()
	s, ok := r.active[conversationID]
	r.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return s.State()
}

// Start validates req, shows the optimistic user message and streams the
// reply on a new goroutine. Validation failures never reach the transport.
func (r *Registry) Start(ctx context.Context, req SendRequest, renderer Renderer) (*Session, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.ConversationID == 0 {
		return nil, ErrNoConversation
	}
	if req.Content == "" && len(req.FileIDs) == 0 {
		return nil, ErrEmptyMessage
	}
	if renderer == nil {
		renderer = RendererFuncs{}
	}

	r.mu.Lock()
	if _, busy := r.active[req.ConversationID]; busy {
		r.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := &Session{
		req:           req,
		transport:     r.transport,
		renderer:      renderer,
		transcript:    r.transcriptLocked(req.ConversationID),
		now:           r.now,
		onAuthExpired: r.onAuthExpired,
		done:          make(chan struct{}),
		user: &models.Message{
			LocalID:        r.newLocalID(),
			ConversationID: req.ConversationID,
			Role:           models.RoleUser,
			Content:        req.Content,
			Files:          append([]models.FileRef(nil), req.Files...),
		},
		reply: &models.Message{
			LocalID:        r.newLocalID(),
			ConversationID: req.ConversationID,
			Role:           models.RoleAssistant,
		},
	}
	s.release = func() { r.release(s) }
	r.active[req.ConversationID] = s
	r.wg.Add(1)
	r.mu.Unlock()

	s.begin()
	go func() {
		defer r.wg.Done()
		s.run(ctx)
	}()
	return s, nil
}

// Send is the blocking form of Start. It returns the session together with
// its failure, if any.
func (r *Registry) Send(ctx context.Context, req SendRequest, renderer Renderer) (*Session, error) {
	s, err := r.Start(ctx, req, renderer)
	if err != nil {
		return nil, err
	}
	<-s.Done()
	return s, s.Err()
}

// Wait blocks until every running session has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) release(s *Session) {
	r.mu.Lock()
	if r.active[s.req.ConversationID] == s {
		delete(r.active, s.req.ConversationID)
	}
	r.mu.Unlock()
}
