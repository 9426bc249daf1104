/*
cached.go - Read-through cache in front of the organization/user directory

PURPOSE:
  The scanner resolves every distinct (organization, user) pair of a scan.
  When the directory is a remote service those lookups dominate report
  latency, so Cached memoises answers for a short TTL.

BACKENDS:
  MemoryCache:  Process-local map with expiry (single instance deployments)
  RedisCache:   Shared cache for several API instances (go-redis v9)

STALENESS:
  Both positive and negative answers are cached. A user created or deleted
  within the TTL may be reported with the previous answer: a just-deleted
  user is not yet orphaned, a just-restored one still is. Reports are
  diagnostic, so a TTL of about a minute is acceptable. Repairs
  (ManualCreate) should use an uncached directory.

FAILURE MODE:
  A failing cache is logged and bypassed. Only a failing directory fails
  the lookup.

SEE ALSO:
  - checkin/store.go: Directory interface
  - cmd/server/main.go: backend selection from config
*/
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/checkin-integrity/checkin"
)

// Cache stores boolean existence answers with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) (exists bool, found bool, err error)
	Set(ctx context.Context, key string, exists bool, ttl time.Duration) error
}

// =============================================================================
// CACHED DIRECTORY
// =============================================================================

// Cached wraps a checkin.Directory with a Cache.
type Cached struct {
	next   checkin.Directory
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

var _ checkin.Directory = (*Cached)(nil)

// NewCached returns a caching directory. A nil logger disables logging.
func NewCached(next checkin.Directory, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) OrganizationExists(ctx context.Context, id checkin.OrganizationID) (bool, error) {
	return c.lookup(ctx, fmt.Sprintf("org:%q", id), func() (bool, error) {
		return c.next.OrganizationExists(ctx, id)
	})
}

func (c *Cached) UserExists(ctx context.Context, id checkin.UserID, orgID checkin.OrganizationID) (bool, error) {
	// IDs may contain ':', so each part is quoted.
	return c.lookup(ctx, fmt.Sprintf("user:%q:%q", orgID, id), func() (bool, error) {
		return c.next.UserExists(ctx, id, orgID)
	})
}

func (c *Cached) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	exists, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
	} else if found {
		return exists, nil
	}

	exists, err = load()
	if err != nil {
		return false, err
	}

	if err := c.cache.Set(ctx, key, exists, c.ttl); err != nil {
		c.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
	return exists, nil
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

type memoryEntry struct {
	exists  bool
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCache creates an empty cache. now defaults to time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), now: now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return false, false, nil
	}
	return e.exists, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, exists bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= ttl {
		m.sweep(now)
	}
	m.entries[key] = memoryEntry{exists: exists, expires: now.Add(ttl)}
	return nil
}

// Len returns the number of entries held, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// sweep drops expired entries. Caller holds mu.
func (m *MemoryCache) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}

// =============================================================================
// REDIS CACHE
// =============================================================================

// RedisCache stores answers as "1"/"0" under a key prefix.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisCache wraps an existing client. prefix namespaces the keys,
// e.g. "checkin:directory:".
func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (bool, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, exists bool, ttl time.Duration) error {
	val := "0"
	if exists {
		val = "1"
	}
	return r.rdb.Set(ctx, r.prefix+key, val, ttl).Err()
}
