package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrPersistence wraps every failure of the durable store. The in-memory log
// stays authoritative when it is returned.
var ErrPersistence = errors.New("persistence failure")

// Log is the single-writer conversation log. It keeps the total word count
// of its messages at or below maxWords by dropping the oldest messages,
// preferring whole user/assistant pairs.
type Log struct {
	mu         sync.RWMutex
	store      Store
	maxWords   int
	messages   []Message
	totalWords int
	logger     *slog.Logger
	now        func() time.Time
}

// NewLog creates an empty log. A nil store keeps the log memory-only;
// maxWords <= 0 disables trimming.
func NewLog(store Store, maxWords int, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{
		store:    store,
		maxWords: maxWords,
		logger:   logger,
		now:      time.Now,
	}
}

// Load replaces the in-memory state with the store's records and trims the
// result. On a store failure the log starts empty.
func (l *Log) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	l.totalWords = 0
	if l.store == nil {
		return nil
	}

	msgs, err := l.store.LoadAll(ctx)
	if err != nil {
		l.logger.Error("failed to load messages", "error", err)
		return fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}
	for _, m := range msgs {
		l.messages = append(l.messages, m)
		l.totalWords += CountWords(m.Content)
	}
	l.logger.Info("loaded messages", "count", len(l.messages), "words", l.totalWords)

	_, err = l.trimLocked(ctx, false)
	return err
}

// Append commits a new message with a fresh id and the current time.
// See Commit for the returned values.
func (l *Log) Append(ctx context.Context, role Role, content, userID string) (Message, []Message, error) {
	return l.Commit(ctx, Message{
		ID:      NewID(),
		Role:    role,
		Content: content,
		UserID:  userID,
	})
}

// Commit appends msg to the tail, persists it and trims. It returns the
// stored message and the messages the trim removed. A non-nil error always
// wraps ErrPersistence; the message is committed in memory regardless.
func (l *Log) Commit(ctx context.Context, msg Message) (Message, []Message, error) {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	words := CountWords(msg.Content)
	l.totalWords += words

	var errs []error
	if l.store != nil {
		if err := l.store.Save(ctx, msg); err != nil {
			l.logger.Error("failed to save message", "id", msg.ID, "error", err)
			errs = append(errs, fmt.Errorf("%w: save %s: %v", ErrPersistence, msg.ID, err))
		}
	}

	// a new user message is kept so the prompt built from the log has it
	removed, err := l.trimLocked(ctx, msg.Role == RoleUser)
	if err != nil {
		errs = append(errs, err)
	}

	l.logger.Info("message appended",
		"role", msg.Role,
		"words", words,
		"total_messages", len(l.messages),
		"total_words", l.totalWords,
	)
	return msg, removed, errors.Join(errs...)
}

// Trim enforces the word budget. It runs automatically after every commit.
func (l *Log) Trim(ctx context.Context) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimLocked(ctx, false)
}

// trimLocked removes from the head, a user/assistant pair at a time when the
// head is one. With keepTail the last message is never part of a removal.
func (l *Log) trimLocked(ctx context.Context, keepTail bool) ([]Message, error) {
	if l.maxWords <= 0 {
		return nil, nil
	}

	var removed []Message
	for l.totalWords > l.maxWords && len(l.messages) >= 2 {
		n := 1
		if IsPair(l.messages[0], l.messages[1]) && (!keepTail || len(l.messages) > 2) {
			n = 2
		}
		for _, m := range l.messages[:n] {
			l.totalWords -= CountWords(m.Content)
			removed = append(removed, m)
		}
		l.messages = slices.Delete(l.messages, 0, n)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	l.logger.Info("trimmed messages",
		"removed", len(removed),
		"remaining", len(l.messages),
		"words", l.totalWords,
	)

	if l.store == nil {
		return removed, nil
	}
	ids := make([]string, len(removed))
	for i, m := range removed {
		ids[i] = m.ID
	}
	if err := l.store.DeleteMany(ctx, ids); err != nil {
		l.logger.Error("failed to delete trimmed messages", "count", len(ids), "error", err)
		return removed, fmt.Errorf("%w: delete trimmed: %v", ErrPersistence, err)
	}
	return removed, nil
}

// List returns a snapshot copy of the log in commit order.
func (l *Log) List() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.messages)
}

// Clear empties memory and the store.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	l.totalWords = 0
	if l.store == nil {
		return nil
	}
	if err := l.store.Clear(ctx); err != nil {
		l.logger.Error("failed to clear messages", "error", err)
		return fmt.Errorf("%w: clear: %v", ErrPersistence, err)
	}
	l.logger.Info("cleared all messages")
	return nil
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (l *Log) TotalWords() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalWords
}

func (l *Log) MaxWords() int { return l.maxWords }
