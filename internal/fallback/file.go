package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// FileStore keeps the whole map as one JSON object, e.g. {"ep-1": 3}.
// Every write is a full read-modify-write of the file, replaced atomically;
// concurrent processes sharing the file are last-writer-wins.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFile returns a FileStore at path, creating parent directories.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Increment(contentID string) error {
	if !validID(contentID) {
		return errors.New("fallback: empty content id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, err := s.load()
	if err != nil {
		return err
	}
	counts[contentID]++
	return s.save(counts)
}

func (s *FileStore) Subtract(contentID string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := counts[contentID]; !ok {
		return nil
	}
	if next := subtract(counts[contentID], n); next > 0 {
		counts[contentID] = next
	} else {
		delete(counts, contentID)
	}
	return s.save(counts)
}

func (s *FileStore) ReadAll() (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (map[string]int64, error) {
	counts := make(map[string]int64)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return counts, nil
		}
		return nil, fmt.Errorf("read fallback file: %w", err)
	}
	if len(data) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, fmt.Errorf("decode fallback file %s: %w", s.path, err)
	}
	return counts, nil
}

func (s *FileStore) save(counts map[string]int64) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encode fallback counters: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending fallback file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write fallback file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace fallback file: %w", err)
	}
	return nil
}
