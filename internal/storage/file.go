package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chrismrutherford/mutt/internal/history"
)

// FileStore keeps records as JSON lines. Saves append; deletes rewrite the
// file. When an id appears more than once the last line wins.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure store dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init store file: %w", err)
	}
	_ = f.Close()
	return &FileStore{path: path}, nil
}

func (s *FileStore) Save(ctx context.Context, msg history.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := json.NewEncoder(f).Encode(msg); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

func (s *FileStore) LoadAll(ctx context.Context) ([]history.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.readUnlocked()
	if err != nil {
		return nil, err
	}
	sortMessages(msgs)
	return msgs, nil
}

func (s *FileStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.readUnlocked()
	if err != nil {
		return err
	}
	drop := toSet(ids)
	kept := msgs[:0]
	for _, m := range msgs {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	return s.rewriteUnlocked(kept)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewriteUnlocked(nil)
}

func (s *FileStore) Close() error { return nil }

// readUnlocked returns the deduplicated records in file order.
func (s *FileStore) readUnlocked() ([]history.Message, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 10*1024*1024)

	index := make(map[string]int)
	var msgs []history.Message
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m history.Message
		if err := json.Unmarshal(line, &m); err != nil || m.ID == "" {
			continue
		}
		if i, ok := index[m.ID]; ok {
			msgs[i] = m
			continue
		}
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return msgs, nil
}

func (s *FileStore) rewriteUnlocked(msgs []history.Message) error {
	tmp := s.path + ".tmp"
	wf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open write: %w", err)
	}
	enc := json.NewEncoder(wf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			_ = wf.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}
