// Package cache provides the shared key/value store with per-entry
// expiry used by the resource provider and the retrieval layer.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache is a key/value store with per-entry TTL. Values are opaque
// bytes; callers own encoding. Set is an atomic per-key upsert.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memEntry struct {
	value      []byte
	insertedAt time.Time
	expiresAt  time.Time
}

// Memory is an in-process Cache. Entries expire lazily on read and
// eagerly via a background sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	stop    chan struct{}
	stopped sync.Once
	logger  *zap.Logger
}

// NewMemory creates a Memory cache. A sweepInterval of 0 disables the
// background sweep; expiry then happens only on read.
func NewMemory(sweepInterval time.Duration, logger *zap.Logger) *Memory {
	m := &Memory{
		entries: make(map[string]memEntry),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under write lock; a fresher entry may have landed.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	m.mu.Lock()
	m.entries[key] = memEntry{value: value, insertedAt: now, expiresAt: now.Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of live entries, expired ones included until
// the next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	var removed int
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 && m.logger != nil {
		m.logger.Debug("cache sweep", zap.Int("removed", removed))
	}
}

func (m *Memory) Close() error {
	m.stopped.Do(func() { close(m.stop) })
	return nil
}
