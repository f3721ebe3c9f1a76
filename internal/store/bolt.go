package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/peva0411/focusgate/internal/domain"
)

var stateBucket = []byte("state")

// BoltStore implements domain.Store on a bbolt database. Every value is a
// JSON document in a single "state" bucket; writes fan out key names to
// watchers without blocking.
type BoltStore struct {
	db *bolt.DB

	mu       sync.Mutex
	watchers []chan string
	closed   bool
}

// OpenBolt opens (or creates) the engine database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get unmarshals the value at key into out.
func (s *BoltStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(stateBucket).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store get %q: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store get %q: decode: %w", key, err)
	}
	return true, nil
}

// Put marshals v and writes it at key, then notifies watchers.
func (s *BoltStore) Put(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store put %q: encode: %w", key, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("store put %q: %w", key, err)
	}

	s.notify(key)
	return nil
}

// Delete removes key. Missing keys are a no-op.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("store delete %q: %w", key, err)
	}

	s.notify(key)
	return nil
}

// Keys returns all keys with the given prefix, in byte order.
func (s *BoltStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(stateBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && len(k) >= len(p) && string(k[:len(p)]) == prefix; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Watch returns a new subscriber channel receiving keys of subsequent writes.
func (s *BoltStore) Watch() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, watchBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *BoltStore) notify(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- key:
		default:
			// Subscriber is behind; drop rather than block the writer.
		}
	}
}

// Close closes all watcher channels and the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, ch := range s.watchers {
			close(ch)
		}
		s.watchers = nil
	}
	s.mu.Unlock()

	return s.db.Close()
}

var _ domain.Store = (*BoltStore)(nil)
