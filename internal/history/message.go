package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a committed chat message. It is never mutated after commit.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
}

// Store persists committed messages. Implementations must be safe for
// concurrent use. LoadAll returns records ordered by timestamp, then id.
type Store interface {
	LoadAll(ctx context.Context) ([]Message, error)
	Save(ctx context.Context, msg Message) error
	DeleteMany(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
}

// NewID returns a time-ordered unique message id (UUIDv7), so ids sort in
// creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CountWords counts whitespace-delimited tokens. Empty or whitespace-only
// content counts as zero words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// IsPair reports whether a and b form one user/assistant exchange, in
// either order.
func IsPair(a, b Message) bool {
	return (a.Role == RoleUser && b.Role == RoleAssistant) ||
		(a.Role == RoleAssistant && b.Role == RoleUser)
}
