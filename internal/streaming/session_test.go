package streaming

import (
	"testing"
	"time"

	"github.com/chrismrutherford/mutt/internal/history"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()
	start := time.Unix(100, 0)
	s.now = func() time.Time { return start }

	s.Append("ignored")
	if _, ok := s.Current(); ok {
		t.Fatalf("no session should be active")
	}

	id := s.Start()
	s.Append("Hi")
	s.Append(" there")

	cur, ok := s.Current()
	if !ok || cur.ID != id || cur.Content != "Hi there" || !cur.IsStreaming {
		t.Fatalf("unexpected current: %+v ok=%v", cur, ok)
	}

	msg := s.Finish()
	if msg == nil {
		t.Fatalf("want message")
	}
	if msg.ID != id || msg.Role != history.RoleAssistant || msg.Content != "Hi there" || !msg.Timestamp.Equal(start) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("finish must clear the session")
	}
	if s.Finish() != nil {
		t.Fatalf("second finish must return nil")
	}
}

func TestFinishWithoutContentReturnsNil(t *testing.T) {
	s := NewSession()
	s.Start()
	if s.Finish() != nil {
		t.Fatalf("empty reply must not produce a message")
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("session must be cleared")
	}
}

func TestDiscard(t *testing.T) {
	s := NewSession()
	s.Start()
	s.Append("partial")
	s.Discard()
	if _, ok := s.Current(); ok {
		t.Fatalf("discard must clear the session")
	}
	if s.Finish() != nil {
		t.Fatalf("discarded reply must not finish into a message")
	}
}
