// pkg/kvstore/memory.go
package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memoryEntry struct {
	value    []byte
	expireAt time.Time // zero = never
}

// Memory is an in-process Store for dev and tests. Expiry is lazy: entries
// past their deadline are treated as absent and dropped on next touch.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	clock clock.Clock
}

func NewMemory() *Memory {
	return &Memory{items: map[string]memoryEntry{}, clock: clock.New()}
}

// NewMemoryWithClock lets tests drive expiry with a mock clock.
func NewMemoryWithClock(c clock.Clock) *Memory {
	return &Memory{items: map[string]memoryEntry{}, clock: c}
}

func (m *Memory) live(e memoryEntry) bool {
	return e.expireAt.IsZero() || m.clock.Now().Before(e.expireAt)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || !m.live(e) {
		delete(m.items, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.entry(value, ttl)
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok && m.live(e) {
		return false, nil
	}
	m.items[key] = m.entry(value, ttl)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for k, e := range m.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !m.live(e) {
			delete(m.items, k)
			continue
		}
		v := make([]byte, len(e.value))
		copy(v, e.value)
		out[k] = v
	}
	return out, nil
}

func (m *Memory) entry(value []byte, ttl time.Duration) memoryEntry {
	v := make([]byte, len(value))
	copy(v, value)
	e := memoryEntry{value: v}
	if ttl > 0 {
		e.expireAt = m.clock.Now().Add(ttl)
	}
	return e
}
