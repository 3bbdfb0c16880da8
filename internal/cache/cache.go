package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/fields"
)

const (
	// DefaultKey is the namespaced storage key the whole cache is serialized under.
	DefaultKey = "fieldMappingCache"
	DefaultTTL = 24 * time.Hour
)

// ErrUnavailable is returned when the persistence layer failed. Callers treat it as
// a miss on reads and as a no-op on writes.
var ErrUnavailable = errors.New("classification cache unavailable")

// Store is the key-value persistence collaborator.
// Get reports found=false without an error when the key does not exist.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context, key string) error
}

// Entry is one cached classification.
type Entry struct {
	Fingerprint string          `json:"-"`
	Category    fields.Category `json:"category"`
	ResolvedAt  time.Time       `json:"resolvedAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// Valid reports whether the entry may be served at the given time.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Cache maps field fingerprints to resolved categories with TTL-based expiry.
//
// Every operation re-reads the entry map from the store and mutations write it back
// merged, so instances sharing a store see each other's writes and clears. Concurrent
// writers to the same fingerprint resolve last writer wins.
type Cache struct {
	store  Store
	key    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL overrides the default 24h entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(c *Cache) {
		if key = strings.TrimSpace(key); key != "" {
			c.key = key
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, used by Get to judge expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		key:     DefaultKey,
		ttl:     DefaultTTL,
		logger:  zap.NewNop(),
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for fingerprint. Missing and expired entries are reported as
// absent; expired ones stay in the store until Prune.
func (c *Cache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return Entry{}, false, err
	}

	entry, ok := c.entries[fingerprint]
	if !ok {
		return Entry{}, false, nil
	}

	if !entry.Valid(c.now()) {
		return Entry{}, false, nil
	}

	entry.Fingerprint = fingerprint
	return entry, true, nil
}

// Put overwrites the entry for fingerprint with resolvedAt = now.
func (c *Cache) Put(ctx context.Context, fingerprint string, category fields.Category, now time.Time) error {
	return c.PutMany(ctx, map[string]fields.Category{fingerprint: category}, now)
}

// PutMany overwrites several entries and persists them with a single store write.
func (c *Cache) PutMany(ctx context.Context, categories map[string]fields.Category, now time.Time) error {
	if len(categories) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return err
	}

	for fingerprint, category := range categories {
		c.entries[fingerprint] = Entry{
			Category:   category,
			ResolvedAt: now,
			ExpiresAt:  now.Add(c.ttl),
		}
	}

	return c.saveLocked(ctx)
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)

	if err := c.store.Clear(ctx, c.key); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}

	return nil
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune(ctx context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return 0, err
	}

	removed := 0
	for fingerprint, entry := range c.entries {
		if !entry.Valid(now) {
			delete(c.entries, fingerprint)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}

	return removed, c.saveLocked(ctx)
}

// Len returns the number of entries seen by the last operation, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// loadLocked replaces the in-memory snapshot with the stored map.
func (c *Cache) loadLocked(ctx context.Context) error {
	data, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		return fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}

	entries := make(map[string]Entry)
	if found && len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			c.logger.Warn("discarding unreadable classification cache",
				zap.String("key", c.key),
				zap.Error(err),
			)
			entries = make(map[string]Entry)
		}
	}

	c.entries = entries

	c.logger.Debug("classification cache loaded", zap.String("key", c.key), zap.Int("entries", len(entries)))
	return nil
}

func (c *Cache) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}

	if err := c.store.Put(ctx, c.key, data); err != nil {
		return fmt.Errorf("%w: save: %v", ErrUnavailable, err)
	}

	return nil
}
