// Package fallback holds the process-local view counters used when the
// durable store rejects a write. Counters are never expired or bounded and
// are not shared between machines.
package fallback

import (
	"errors"
	"strings"
	"sync"
)

// Counter is a durable content id -> view count map.
type Counter interface {
	Increment(contentID string) error
	ReadAll() (map[string]int64, error)
	// Subtract lowers a counter by n, removing it when it reaches zero.
	Subtract(contentID string, n int64) error
	Close() error
}

// Memory is a non-durable Counter for tests and ephemeral runs.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemory returns an empty in-memory counter.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

func (m *Memory) Increment(contentID string) error {
	if !validID(contentID) {
		return errors.New("fallback: empty content id")
	}
	m.mu.Lock()
	m.counts[contentID]++
	m.mu.Unlock()
	return nil
}

func (m *Memory) ReadAll() (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Subtract(contentID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[contentID] = subtract(m.counts[contentID], n)
	if m.counts[contentID] == 0 {
		delete(m.counts, contentID)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func subtract(current, n int64) int64 {
	if n <= 0 {
		return current
	}
	if n >= current {
		return 0
	}
	return current - n
}

func validID(contentID string) bool {
	return strings.TrimSpace(contentID) != ""
}
