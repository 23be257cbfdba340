package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/chrismrutherford/mutt/internal/history"
)

// MemoryStore keeps records in process memory only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]history.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]history.Message)}
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]history.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Message, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, msg history.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[msg.ID] = msg
	return nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.records)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func sortMessages(msgs []history.Message) {
	slices.SortStableFunc(msgs, func(a, b history.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
