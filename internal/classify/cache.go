package classify

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// Cache sizing defaults.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

// PairKey returns an order-independent cache key for two record ids:
// classify(A,B) and classify(B,A) hit the same entry.
func PairKey(idA, idB string) string {
	ids := []string{idA, idB}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(ids[0] + ids[1]))
	return hex.EncodeToString(sum[:])[:32]
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits      int
	Misses    int
	Evictions int
	Size      int
}

type cacheEntry struct {
	key       string
	result    Result
	expiresAt time.Time
}

// CachedClassifier wraps another classifier with a thread-safe LRU+TTL cache
// keyed by PairKey. Cache hits are returned with Cached set.
type CachedClassifier struct {
	inner    Classifier
	capacity int
	ttl      time.Duration

	mu        sync.Mutex
	items     map[string]*list.Element
	lru       *list.List
	hits      int
	misses    int
	evictions int
}

// NewCachedClassifier wraps inner with an LRU cache of the given capacity and
// TTL; zero values take the defaults.
func NewCachedClassifier(inner Classifier, capacity int, ttl time.Duration) *CachedClassifier {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClassifier{
		inner:    inner,
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Classify returns the cached result for the unordered pair when fresh,
// otherwise delegates and stores the outcome.
func (c *CachedClassifier) Classify(ctx context.Context, p Pair) (Result, error) {
	key := PairKey(p.Newer.ID, p.Older.ID)

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*cacheEntry)
		if time.Now().Before(ent.expiresAt) {
			c.lru.MoveToFront(elem)
			c.hits++
			res := ent.result
			res.Cached = true
			c.mu.Unlock()
			return res, nil
		}
		c.lru.Remove(elem)
		delete(c.items, key)
	}
	c.misses++
	c.mu.Unlock()

	res, err := c.inner.Classify(ctx, p)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	for len(c.items) >= c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		c.evictions++
	}
	stored := res
	stored.Cached = false
	c.items[key] = c.lru.PushFront(&cacheEntry{
		key:       key,
		result:    stored,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.mu.Unlock()

	return res, nil
}

// Stats returns a snapshot of the cache counters.
func (c *CachedClassifier) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
	}
}
