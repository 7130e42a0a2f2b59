package fallback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "views:"

// BadgerStore keeps one big-endian uint64 per episode under "views:<id>".
type BadgerStore struct {
	db *badger.DB
	mu sync.Mutex
}

// OpenBadger opens (or creates) the counter database in dir. Badger locks
// dir exclusively, so only one process can hold the counters; use FileStore
// when the CLI must run next to the server.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fallback counters in %s (single process only): %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Increment(contentID string) error {
	if !validID(contentID) {
		return errors.New("fallback: empty content id")
	}
	return s.update(contentID, func(v int64) int64 { return v + 1 })
}

func (s *BadgerStore) Subtract(contentID string, n int64) error {
	return s.update(contentID, func(v int64) int64 { return subtract(v, n) })
}

// update applies fn inside one transaction. Writers in this process are
// serialized; conflicts with other transactions are retried.
func (s *BadgerStore) update(contentID string, fn func(int64) int64) error {
	key := []byte(badgerKeyPrefix + contentID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 10; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var current int64
			item, err := txn.Get(key)
			switch {
			case err == nil:
				if err := item.Value(func(val []byte) error {
					current = decodeCount(val)
					return nil
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
			default:
				return err
			}

			next := fn(current)
			if next <= 0 {
				if current == 0 {
					return nil
				}
				return txn.Delete(key)
			}
			return txn.Set(key, encodeCount(next))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update fallback counter %s: %w", contentID, err)
		}
		return nil
	}
	return fmt.Errorf("update fallback counter %s: %w", contentID, badger.ErrConflict)
}

func (s *BadgerStore) ReadAll() (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), badgerKeyPrefix)
			if err := item.Value(func(val []byte) error {
				out[id] = decodeCount(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read fallback counters: %w", err)
	}
	return out, nil
}

func encodeCount(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeCount(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
