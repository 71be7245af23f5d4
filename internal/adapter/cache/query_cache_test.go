package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexqa/internal/domain"
)

func coll(userID string) domain.CollectionKey {
	return domain.CollectionKey{UserID: userID, ProviderID: "ollama:nomic-embed-text"}
}

type countingRetriever struct {
	calls int
}

func (r *countingRetriever) Retrieve(ctx context.Context, userID, query string, k int) ([]domain.ScoredChunk, error) {
	r.calls++
	return []domain.ScoredChunk{{Chunk: domain.Chunk{Text: userID + ":" + query}, Score: 0.5}}, nil
}

func TestQueryCache_GetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)

	_, ok := c.Get(coll("u1"), "login", 5)
	assert.False(t, ok)

	c.Put(coll("u1"), "login", 5, []domain.ScoredChunk{{Score: 0.9}})
	got, ok := c.Get(coll("u1"), "login", 5)
	require.True(t, ok)
	assert.Equal(t, 0.9, got[0].Score)

	_, ok = c.Get(coll("u1"), "login", 3)
	assert.False(t, ok, "k is part of the key")
	_, ok = c.Get(coll("u2"), "login", 5)
	assert.False(t, ok, "user is part of the key")

	got[0].Score = 0
	again, _ := c.Get(coll("u1"), "login", 5)
	assert.Equal(t, 0.9, again[0].Score, "callers get a copy")
}

func TestQueryCache_Eviction(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put(coll("u"), "a", 1, nil)
	c.Put(coll("u"), "b", 1, nil)
	c.Get(coll("u"), "a", 1)
	c.Put(coll("u"), "c", 1, nil)

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get(coll("u"), "b", 1)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(coll("u"), "a", 1)
	assert.True(t, ok)
}

func TestQueryCache_TTL(t *testing.T) {
	c := NewQueryCache(10, time.Millisecond)
	c.Put(coll("u"), "a", 1, nil)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(coll("u"), "a", 1)
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestQueryCache_InvalidateIsPerUser(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put(coll("u1"), "a", 1, nil)
	c.Put(coll("u2"), "a", 1, nil)

	c.Invalidate("u1")

	_, ok := c.Get(coll("u1"), "a", 1)
	assert.False(t, ok)
	_, ok = c.Get(coll("u2"), "a", 1)
	assert.True(t, ok)
}

func TestCachedRetriever(t *testing.T) {
	inner := &countingRetriever{}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute), "ollama:nomic-embed-text")
	ctx := context.Background()

	first, err := r.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)
	second, err := r.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)

	r.Invalidate("u1")
	_, err = r.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestQueryCache_KeyedByProvider(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	local := domain.CollectionKey{UserID: "u1", ProviderID: "ollama:nomic-embed-text"}
	cloud := domain.CollectionKey{UserID: "u1", ProviderID: "azure:text-embedding-ada-002"}

	c.Put(local, "login", 5, []domain.ScoredChunk{{Score: 0.9}})

	_, ok := c.Get(cloud, "login", 5)
	assert.False(t, ok)
	got, ok := c.Get(local, "login", 5)
	require.True(t, ok)
	assert.Len(t, got, 1)

	c.Put(cloud, "login", 5, nil)
	c.Invalidate("u1")
	_, ok = c.Get(local, "login", 5)
	assert.False(t, ok)
	_, ok = c.Get(cloud, "login", 5)
	assert.False(t, ok)
}

func TestCachedRetriever_SeparatesProviders(t *testing.T) {
	inner := &countingRetriever{}
	shared := NewQueryCache(10, time.Minute)
	local := NewCachedRetriever(inner, shared, "ollama:nomic-embed-text")
	cloud := NewCachedRetriever(inner, shared, "azure:text-embedding-ada-002")
	ctx := context.Background()

	_, err := local.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)
	_, err = cloud.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)
	_, err = local.Retrieve(ctx, "u1", "login", 5)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
