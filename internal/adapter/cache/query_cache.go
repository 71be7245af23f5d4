package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// QueryCache is a bounded LRU of retrieval results keyed by collection
// (user and embedding provider), query and k. Each user has a generation counter; bumping it on ingestion or deletion
// makes that user's older entries unreachable.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	userGen map[string]uint64
}

type cacheEntry struct {
	userID    string
	results   []domain.ScoredChunk
	timestamp time.Time
	userGen   uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		userGen: make(map[string]uint64),
	}
}

func cacheKey(coll domain.CollectionKey, query string, topK int) string {
	h := sha256.New()
	h.Write([]byte(coll.UserID))
	h.Write([]byte{0})
	h.Write([]byte(coll.ProviderID))
	h.Write([]byte{0})
	h.Write([]byte(query))
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(topK))
	h.Write(k[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *QueryCache) Get(coll domain.CollectionKey, query string, topK int) ([]domain.ScoredChunk, bool) {
	key := cacheKey(coll, query, topK)

	c.mu.RLock()
	entry, exists := c.entries[key]
	currentGen := c.userGen[coll.UserID]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Since(entry.timestamp) > c.ttl || entry.userGen != currentGen {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	out := make([]domain.ScoredChunk, len(entry.results))
	copy(out, entry.results)
	return out, true
}

func (c *QueryCache) Put(coll domain.CollectionKey, query string, topK int, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(coll, query, topK)
	stored := make([]domain.ScoredChunk, len(results))
	copy(stored, results)
	entry := &cacheEntry{
		userID:    coll.UserID,
		results:   stored,
		timestamp: time.Now(),
		userGen:   c.userGen[coll.UserID],
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Invalidate drops every cached result of one user, across providers.
func (c *QueryCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userGen[userID]++
	for key, entry := range c.entries {
		if entry.userID == userID {
			delete(c.entries, key)
			c.removeFromOrder(key)
		}
	}
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

var _ port.Retriever = (*CachedRetriever)(nil)

// CachedRetriever caches the results of a retriever reading the collections
// of one embedding provider.
type CachedRetriever struct {
	retriever  port.Retriever
	cache      *QueryCache
	providerID string
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache, providerID string) *CachedRetriever {
	return &CachedRetriever{
		retriever:  retriever,
		cache:      cache,
		providerID: providerID,
	}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, userID, query string, k int) ([]domain.ScoredChunk, error) {
	coll := domain.CollectionKey{UserID: userID, ProviderID: r.providerID}
	if results, hit := r.cache.Get(coll, query, k); hit {
		return results, nil
	}

	results, err := r.retriever.Retrieve(ctx, userID, query, k)
	if err != nil {
		return nil, err
	}

	r.cache.Put(coll, query, k, results)
	return results, nil
}

// Invalidate forwards to the underlying cache.
func (r *CachedRetriever) Invalidate(userID string) {
	r.cache.Invalidate(userID)
}
