// Package streaming accumulates the assistant reply of the generation in
// flight. The accumulated text is not part of the conversation log until
// Finish turns it into a history.Message.
package streaming

import (
	"strings"
	"sync"
	"time"

	"github.com/chrismrutherford/mutt/internal/history"
)

// Message is a snapshot of the in-flight reply.
type Message struct {
	ID          string       `json:"id"`
	Role        history.Role `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	IsStreaming bool         `json:"isStreaming"`
}

type active struct {
	id        string
	timestamp time.Time
	content   strings.Builder
}

// Session holds at most one in-flight reply. Callers guarantee that only one
// generation uses it at a time; the mutex only protects concurrent readers.
type Session struct {
	mu      sync.Mutex
	current *active
	now     func() time.Time
}

func NewSession() *Session {
	return &Session{now: time.Now}
}

// Start begins a new reply, replacing any previous one, and returns its id.
func (s *Session) Start() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &active{id: history.NewID(), timestamp: s.now()}
	return s.current.id
}

// Append adds a fragment. It is a no-op when no reply is active.
func (s *Session) Append(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current.content.WriteString(fragment)
}

// Finish ends the active reply. It returns nil when no reply was active or
// nothing was appended; otherwise the message carries the reply's id and
// start time.
func (s *Session) Finish() *history.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	s.current = nil
	if cur == nil || cur.content.Len() == 0 {
		return nil
	}
	return &history.Message{
		ID:        cur.id,
		Role:      history.RoleAssistant,
		Content:   cur.content.String(),
		Timestamp: cur.timestamp,
	}
}

// Discard drops the active reply without producing a message.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Current returns a snapshot of the active reply.
func (s *Session) Current() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Message{}, false
	}
	return Message{
		ID:          s.current.id,
		Role:        history.RoleAssistant,
		Content:     s.current.content.String(),
		Timestamp:   s.current.timestamp,
		IsStreaming: true,
	}, true
}
