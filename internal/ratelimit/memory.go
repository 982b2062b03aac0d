package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepChunk bounds how many keys are deleted per lock acquisition.
const sweepChunk = 256

// MemoryStore implements Store with a mutex-guarded map.
// Every Increment happens under the lock, so each request is counted once.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Increment counts one request for key.
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || rec.Expired(now) {
		rec = &Record{
			Key:         key,
			Count:       1,
			WindowStart: now,
			Window:      window,
		}
		m.records[key] = rec
		return *rec, nil
	}

	rec.Count++
	return *rec, nil
}

// Reset clears the record for key.
func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the record for key.
func (m *MemoryStore) Get(key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked keys, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ExpiredKeys returns the keys whose window has elapsed at now.
// It does not modify the store.
func (m *MemoryStore) ExpiredKeys(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key, rec := range m.records {
		if rec.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Sweep removes records expired at now. Deletion runs in chunks so the
// request path never waits behind a full pass over a large map. A record
// renewed between selection and deletion is kept.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	keys := m.ExpiredKeys(now)
	removed := 0

	for start := 0; start < len(keys); start += sweepChunk {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		end := start + sweepChunk
		if end > len(keys) {
			end = len(keys)
		}

		m.mu.Lock()
		for _, key := range keys[start:end] {
			if rec, ok := m.records[key]; ok && rec.Expired(now) {
				delete(m.records, key)
				removed++
			}
		}
		m.mu.Unlock()
	}

	return removed, nil
}

// Tick sweeps with the wall clock. It is meant for external schedulers.
func (m *MemoryStore) Tick() int {
	n, _ := m.Sweep(context.Background(), time.Now())
	return n
}

// Close drops all records.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.records = make(map[string]*Record)
	m.mu.Unlock()
	return nil
}
