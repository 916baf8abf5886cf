package transcription

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached transcript. Entries are never updated; expired ones
// are dropped when looked up.
type Entry struct {
	Fingerprint string     `json:"fingerprint"`
	Transcript  Transcript `json:"transcript"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Hits        int64      `json:"hits"`
}

func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type Cache interface {
	// Get returns false for missing and expired entries.
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(c.now()) {
		delete(c.entries, fingerprint)
		return Entry{}, false, nil
	}
	e.Hits++
	return *e, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Fingerprint] = &entry
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
