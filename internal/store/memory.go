package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/peva0411/focusgate/internal/domain"
)

// MemoryStore is an in-memory domain.Store for tests. It round-trips values
// through JSON so tests exercise the same encoding path as the bbolt store.
// FailWrites can be toggled to simulate storage write failures.
type MemoryStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	watchers   []chan string
	closed     bool
	FailWrites bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get unmarshals the value at key into out.
func (s *MemoryStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store get %q: decode: %w", key, err)
	}
	return true, nil
}

// Put marshals v and stores it at key.
func (s *MemoryStore) Put(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.FailWrites {
		s.mu.Unlock()
		return fmt.Errorf("store put %q: simulated write failure", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store put %q: encode: %w", key, err)
	}
	s.data[key] = raw
	watchers := append([]chan string(nil), s.watchers...)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- key:
		default:
		}
	}
	return nil
}

// Delete removes key and notifies watchers, matching BoltStore.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, key)
	watchers := append([]chan string(nil), s.watchers...)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- key:
		default:
		}
	}
	return nil
}

// Keys lists all keys with the given prefix.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch returns a new subscriber channel.
func (s *MemoryStore) Watch() <-chan string {
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

// Close closes all watcher channels.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		for _, ch := range s.watchers {
			close(ch)
		}
		s.watchers = nil
	}
	return nil
}

var _ domain.Store = (*MemoryStore)(nil)
