package session

import (
	"sync"

	"secretaria/internal/models"
)

// Transcript is the message list of one conversation. Readers get copies;
// only the owning session and the registry mutate it.
type Transcript struct {
	mu             sync.RWMutex
	conversationID int64
	messages       []*models.Message
}

func newTranscript(conversationID int64) *Transcript {
	return &Transcript{conversationID: conversationID}
}

func (t *Transcript) ConversationID() int64 {
	return t.conversationID
}

// Messages returns a snapshot of the transcript in display order.
func (t *Transcript) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m.Clone())
	}
	return out
}

// Find looks up a settled message by its server id.
func (t *Transcript) Find(id int64) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.messages {
		if m.ID != nil && *m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) replace(history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = t.messages[:0]
	for i := range history {
		m := history[i].Clone()
		m.ConversationID = t.conversationID
		t.messages = append(t.messages, &m)
	}
}

func (t *Transcript) append(m *models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
}

func (t *Transcript) remove(m *models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.messages {
		if cur == m {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

// mutate runs fn under the write lock and returns a snapshot of m.
func (t *Transcript) mutate(m *models.Message, fn func(*models.Message)) models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(m)
	return m.Clone()
}
