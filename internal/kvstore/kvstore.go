// Package kvstore abstracts short-lived key/value state (ack markers, poll
// caches, client-side session state) behind one interface with pluggable
// backends: in-memory for tests and the terminal client, Redis in the server.
package kvstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the minimal contract every backend satisfies. A zero TTL means
// the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is a concurrency-safe in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests use it to expire entries
// without sleeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Incr atomically increments the integer stored at key, starting the TTL
// on first increment. Non-numeric existing values are treated as zero.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		ok = false
	}

	var n int64
	if ok {
		n, _ = strconv.ParseInt(entry.value, 10, 64)
		n++
		entry.value = strconv.FormatInt(n, 10)
	} else {
		n = 1
		entry = memoryEntry{value: "1"}
		if ttl > 0 {
			entry.expiresAt = m.now().Add(ttl)
		}
	}
	m.entries[key] = entry
	return n, nil
}
