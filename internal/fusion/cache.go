package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rjmcleod/ctxfuse/pkg/types"
)

const defaultCacheTTL = 5 * time.Minute

// resultCache holds fused search results keyed by the request. Only
// search-derived items are cached; priority context depends on live editor
// state and is recomputed every query.
type resultCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	items    []types.ContextItem
	storedAt time.Time
}

func newResultCache(maxEntries int, ttl time.Duration) *resultCache {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &resultCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *resultCache) get(req Request) ([]types.ContextItem, bool) {
	entry, ok := c.entries.Get(cacheKey(req))
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.entries.Remove(cacheKey(req))
		return nil, false
	}
	out := make([]types.ContextItem, len(entry.items))
	copy(out, entry.items)
	return out, true
}

func (c *resultCache) put(req Request, items []types.ContextItem) {
	stored := make([]types.ContextItem, len(items))
	copy(stored, items)
	c.entries.Add(cacheKey(req), cacheEntry{items: stored, storedAt: c.now()})
}

func cacheKey(req Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", req.Strategy, req.Query, req.Budget)))
	return hex.EncodeToString(sum[:])
}
