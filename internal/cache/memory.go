package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// Memory is a thread-safe in-process backend. It is the default backend and
// the one used throughout the tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests to force expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.removeLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)

	e := entry{value: value, tags: tags}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	for _, tag := range tags {
		set, ok := m.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

func (m *Memory) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for _, tag := range tags {
		for key := range m.tags[tag] {
			m.removeLocked(key)
			purged++
		}
		delete(m.tags, tag)
	}
	return purged, nil
}

func (m *Memory) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range e.tags {
		if set, ok := m.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}
