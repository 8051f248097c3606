package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-process Store with the same TTL and self-heal rules
// as the Redis backend. It suits single-process deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A zero ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, e Entry) error {
	data, err := encode(e)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if me, ok := s.entries[key]; ok && s.now().Before(me.expires) && !replaces(me.data, e) {
		return fmt.Errorf("set status %s to %s: %w", key, e.Status, ErrStale)
	}
	s.entries[key] = memEntry{data: data, expires: s.now().Add(s.ttl)}
	return nil
}

// SetRaw stores bytes verbatim under key with a fresh TTL.
func (s *MemoryStore) SetRaw(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{data: data, expires: s.now().Add(s.ttl)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if !s.now().Before(me.expires) {
		delete(s.entries, key)
		return Entry{}, ErrNotFound
	}

	e, err := decode(me.data)
	if err != nil {
		ctxlog.FromContext(ctx).Error("discarding malformed status entry", "key", key, "error", err)
		delete(s.entries, key)
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Compile-time verification that both backends implement Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
