package pipeline

import (
	"sync"
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// DefaultCacheTTL is how long a completed result answers for
// identical input.
const DefaultCacheTTL = 10 * time.Minute

// resultCache stores completed results keyed by input fingerprint.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	result  *models.PipelineResult
	expires time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns a copy of the cached result with Cached set, or nil.
func (c *resultCache) get(fingerprint string) *models.PipelineResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil
	}
	if c.now().After(entry.expires) {
		delete(c.entries, fingerprint)
		return nil
	}

	copied := *entry.result
	copied.Cached = true
	return &copied
}

// put stores a result. Failed runs are not cached so a re-submit
// gets a fresh attempt.
func (c *resultCache) put(fingerprint string, result *models.PipelineResult) {
	if result.Status == models.RunFailed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cacheEntry{
		result:  result,
		expires: c.now().Add(c.ttl),
	}
}

// prune drops expired entries.
func (c *resultCache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, k)
		}
	}
}
