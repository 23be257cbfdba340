package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type memStore struct {
	mu        sync.Mutex
	saved     []Message
	deletes   [][]string
	failSave  bool
	failDel   bool
	failLoad  bool
	clearCall int
}

func (m *memStore) LoadAll(ctx context.Context) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, errors.New("db down")
	}
	return append([]Message{}, m.saved...), nil
}

func (m *memStore) Save(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("db down")
	}
	m.saved = append(m.saved, msg)
	return nil
}

func (m *memStore) DeleteMany(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel {
		return errors.New("db down")
	}
	m.deletes = append(m.deletes, ids)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var out []Message
	for _, s := range m.saved {
		if !drop[s.ID] {
			out = append(out, s)
		}
	}
	m.saved = out
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCall++
	m.saved = nil
	return nil
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

func TestCountWords(t *testing.T) {
	cases := map[string]int{
		"":                 0,
		"   ":              0,
		"hello":            1,
		"  hello   world ": 2,
		"a\tb\nc":          3,
	}
	for in, want := range cases {
		if got := CountWords(in); got != want {
			t.Errorf("CountWords(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestAppendPersistsAndLists(t *testing.T) {
	st := &memStore{}
	l := NewLog(st, 100, nil)
	ctx := context.Background()

	u, _, err := l.Append(ctx, RoleUser, "hello", "alice")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	a, _, err := l.Append(ctx, RoleAssistant, "hi there", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if u.ID == "" || u.ID == a.ID {
		t.Fatalf("ids not unique: %q %q", u.ID, a.ID)
	}
	if u.ID >= a.ID {
		t.Fatalf("ids not ordered by creation: %q >= %q", u.ID, a.ID)
	}

	got := l.List()
	if len(got) != 2 || got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if got[0].UserID != "alice" {
		t.Fatalf("user id lost: %+v", got[0])
	}
	if len(st.saved) != 2 {
		t.Fatalf("want 2 saved, got %d", len(st.saved))
	}
	if l.TotalWords() != 3 {
		t.Fatalf("want 3 words, got %d", l.TotalWords())
	}

	// snapshot copy
	got[0].Content = "mutated"
	if l.List()[0].Content != "hello" {
		t.Fatalf("internal state mutated via returned slice")
	}
}

func TestTrimRemovesOldestPair(t *testing.T) {
	st := &memStore{}
	l := NewLog(st, 10, nil)
	ctx := context.Background()

	// seed a 12-word pair directly, as if the budget had been raised
	l.messages = []Message{
		{ID: "1", Role: RoleUser, Content: words(6)},
		{ID: "2", Role: RoleAssistant, Content: words(6)},
	}
	l.totalWords = 12

	msg, removed, err := l.Append(ctx, RoleUser, words(3), "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got := l.List()
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("want only the new message, got %+v", got)
	}
	if l.TotalWords() != 3 {
		t.Fatalf("want 3 words, got %d", l.TotalWords())
	}
	if len(removed) != 2 || removed[0].ID != "1" || removed[1].ID != "2" {
		t.Fatalf("unexpected removed: %+v", removed)
	}
	if len(st.deletes) != 1 || len(st.deletes[0]) != 2 {
		t.Fatalf("want one batched delete of 2 ids, got %+v", st.deletes)
	}
}

func TestTrimRemovesSingleWhenHeadIsNotAPair(t *testing.T) {
	l := NewLog(nil, 5, nil)
	l.messages = []Message{
		{ID: "1", Role: RoleUser, Content: words(3)},
		{ID: "2", Role: RoleUser, Content: words(2)},
	}
	l.totalWords = 5

	if _, _, err := l.Append(context.Background(), RoleAssistant, words(2), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	got := l.List()
	if len(got) != 2 || got[0].ID != "2" {
		t.Fatalf("want oldest single removed, got %+v", got)
	}
	if l.TotalWords() != 4 {
		t.Fatalf("want 4 words, got %d", l.TotalWords())
	}
}

func TestTrimKeepsBudgetInvariant(t *testing.T) {
	l := NewLog(nil, 20, nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, _, err := l.Append(ctx, role, words(1+i%7), ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		sum := 0
		for _, m := range l.List() {
			sum += CountWords(m.Content)
		}
		if sum != l.TotalWords() {
			t.Fatalf("derived count drift: %d vs %d", sum, l.TotalWords())
		}
		if sum > 20 && l.Len() >= 2 {
			t.Fatalf("budget exceeded after append %d: %d words", i, sum)
		}
	}
}

func TestTrimKeepsNewUserMessage(t *testing.T) {
	l := NewLog(nil, 10, nil)
	l.messages = []Message{{ID: "1", Role: RoleAssistant, Content: words(5)}}
	l.totalWords = 5

	msg, removed, err := l.Append(context.Background(), RoleUser, words(9), "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "1" {
		t.Fatalf("want only the head removed, got %+v", removed)
	}
	got := l.List()
	if len(got) != 1 || got[0].ID != msg.ID || l.TotalWords() != 9 {
		t.Fatalf("new user message must survive, got %+v", got)
	}
}

func TestTrimMayDropCommittedAssistantPair(t *testing.T) {
	l := NewLog(nil, 10, nil)
	l.messages = []Message{{ID: "1", Role: RoleUser, Content: words(3)}}
	l.totalWords = 3

	_, removed, err := l.Append(context.Background(), RoleAssistant, words(20), "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(removed) != 2 || l.Len() != 0 {
		t.Fatalf("oversized pair must go together, removed %+v, len %d", removed, l.Len())
	}
}

func TestTrimStopsAtOneMessage(t *testing.T) {
	l := NewLog(nil, 2, nil)
	if _, _, err := l.Append(context.Background(), RoleUser, words(5), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("single oversized message must survive, len=%d", l.Len())
	}
}

func TestSaveFailureKeepsMessageInMemory(t *testing.T) {
	st := &memStore{failSave: true}
	l := NewLog(st, 100, nil)

	msg, _, err := l.Append(context.Background(), RoleUser, "hello", "")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("want ErrPersistence, got %v", err)
	}
	if got := l.List(); len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("message must stay committed in memory: %+v", got)
	}
}

func TestDeleteFailureStillTrimsMemory(t *testing.T) {
	st := &memStore{failDel: true}
	l := NewLog(st, 3, nil)
	ctx := context.Background()
	_, _, _ = l.Append(ctx, RoleUser, words(2), "")
	_, removed, err := l.Append(ctx, RoleAssistant, words(2), "")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("want ErrPersistence, got %v", err)
	}
	if len(removed) != 2 || l.Len() != 0 {
		t.Fatalf("memory trim must proceed: removed=%d len=%d", len(removed), l.Len())
	}
}

func TestLoadOrdersAndTrims(t *testing.T) {
	st := &memStore{saved: []Message{
		{ID: "a", Role: RoleUser, Content: words(4)},
		{ID: "b", Role: RoleAssistant, Content: words(4)},
		{ID: "c", Role: RoleUser, Content: words(2)},
	}}
	l := NewLog(st, 6, nil)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := l.List()
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("unexpected after load: %+v", got)
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	l := NewLog(&memStore{failLoad: true}, 10, nil)
	if err := l.Load(context.Background()); !errors.Is(err, ErrPersistence) {
		t.Fatalf("want ErrPersistence, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("want empty log")
	}
}

func TestClear(t *testing.T) {
	st := &memStore{}
	l := NewLog(st, 100, nil)
	ctx := context.Background()
	_, _, _ = l.Append(ctx, RoleUser, "one two", "")
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if l.Len() != 0 || l.TotalWords() != 0 || st.clearCall != 1 || len(st.saved) != 0 {
		t.Fatalf("clear incomplete: len=%d words=%d calls=%d", l.Len(), l.TotalWords(), st.clearCall)
	}
}
