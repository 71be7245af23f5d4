// Package storetest holds behaviour tests shared by every CollectionStore.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// Factory opens an empty store for one subtest.
type Factory func(t *testing.T) port.CollectionStore

// Run exercises the collection contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s port.CollectionStore)
	}{
		{"QueryOrdersBySimilarity", testQueryOrdersBySimilarity},
		{"TiesKeepInsertionOrder", testTiesKeepInsertionOrder},
		{"MissingCollection", testMissingCollection},
		{"DimensionMismatchLeavesStoreUntouched", testDimensionMismatch},
		{"UsersAreIsolated", testUsersAreIsolated},
		{"ReingestReplacesChunks", testReingestReplacesChunks},
		{"DeleteDocument", testDeleteDocument},
		{"Reset", testReset},
		{"ConcurrentReadersAndWriter", testConcurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func key(user, provider string) domain.CollectionKey {
	return domain.CollectionKey{UserID: user, ProviderID: provider}
}

func doc(id, source string) domain.Document {
	return domain.Document{
		ID:         id,
		UserID:     "u1",
		Source:     source,
		Kind:       domain.SourceFile,
		IngestedAt: time.Unix(1700000000, 0),
	}
}

func record(docID string, seq int, text string, vec ...float32) port.VectorRecord {
	return port.VectorRecord{
		Chunk: domain.Chunk{
			ID:    fmt.Sprintf("%s-%d", docID, seq),
			DocID: docID,
			Seq:   seq,
			Text:  text,
			End:   len(text),
			Metadata: map[string]string{
				domain.MetaFileName:   docID + ".txt",
				domain.MetaChunkIndex: fmt.Sprint(seq),
			},
		},
		Vector: vec,
	}
}

func texts(results []domain.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}

func testQueryOrdersBySimilarity(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	k := key("u1", "mock:3")
	err := s.Upsert(ctx, k, doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "far", 0, 0, 1),
		record("d1", 1, "near", 1, 0, 0),
		record("d1", 2, "middle", 1, 1, 0),
	})
	require.NoError(t, err)

	results, err := s.Query(ctx, k, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"near", "middle"}, texts(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "d1.txt", results[0].Chunk.Metadata[domain.MetaFileName])
	assert.Equal(t, "d1", results[0].Chunk.DocID)

	all, err := s.Query(ctx, k, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testTiesKeepInsertionOrder(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	k := key("u1", "mock:2")
	require.NoError(t, s.Upsert(ctx, k, doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "first", 1, 0),
		record("d1", 1, "second", 2, 0),
	}))
	require.NoError(t, s.Upsert(ctx, k, doc("d2", "b.txt"), []port.VectorRecord{
		record("d2", 0, "third", 3, 0),
	}))

	for i := 0; i < 5; i++ {
		results, err := s.Query(ctx, k, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, texts(results))
	}
}

func testMissingCollection(t *testing.T, s port.CollectionStore) {
	_, err := s.Query(context.Background(), key("nobody", "mock:2"), []float32{1, 0}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func testDimensionMismatch(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, key("u1", "ollama:nomic"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "hello", 1, 0, 0, 0),
	}))

	err := s.Upsert(ctx, key("u1", "azure:ada"), doc("d2", "b.txt"), []port.VectorRecord{
		record("d2", 0, "world", 1, 0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = s.Upsert(ctx, key("u1", "ollama:nomic"), doc("d3", "c.txt"), []port.VectorRecord{
		record("d3", 0, "short", 1, 0),
	})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = s.Upsert(ctx, key("u1", "ollama:nomic"), doc("d4", "d.txt"), []port.VectorRecord{
		record("d4", 0, "ok", 1, 0, 0, 0),
		record("d4", 1, "mixed", 1, 0),
	})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	infos, err := s.Collections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 4, infos[0].Dimension)
	assert.Equal(t, 1, infos[0].Chunks)

	docs, err := s.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)

	_, err = s.Query(ctx, key("u1", "ollama:nomic"), []float32{1, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func testUsersAreIsolated(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, key("alice", "mock:2"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "alice's", 1, 0),
	}))
	require.NoError(t, s.Upsert(ctx, key("bob", "mock:3"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "bob's", 1, 0, 0),
	}))

	results, err := s.Query(ctx, key("alice", "mock:2"), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice's"}, texts(results))

	_, err = s.Query(ctx, key("alice", "mock:3"), []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func testReingestReplacesChunks(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	k := key("u1", "mock:2")
	require.NoError(t, s.Upsert(ctx, k, doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "old one", 1, 0),
		record("d1", 1, "old two", 0, 1),
	}))
	require.NoError(t, s.Upsert(ctx, k, doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "new one", 1, 1),
	}))

	results, err := s.Query(ctx, k, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new one"}, texts(results))

	docs, err := s.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Chunks)
	assert.Equal(t, "a.txt", docs[0].Source)
	assert.Equal(t, "mock:2", docs[0].ProviderID)
}

func testDeleteDocument(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	k := key("u1", "mock:2")
	require.NoError(t, s.Upsert(ctx, k, doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "one", 1, 0),
		record("d1", 1, "two", 0, 1),
	}))

	n, err := s.DeleteDocument(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteDocument(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.Query(ctx, k, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testReset(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, key("u1", "mock:2"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "one", 1, 0),
	}))
	require.NoError(t, s.Upsert(ctx, key("u2", "mock:2"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "kept", 1, 0),
	}))

	require.NoError(t, s.Reset(ctx, "u1"))

	_, err := s.Query(ctx, key("u1", "mock:2"), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	infos, err := s.Collections(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, infos)

	results, err := s.Query(ctx, key("u2", "mock:2"), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, texts(results))

	// after a reset the user may switch dimension
	require.NoError(t, s.Upsert(ctx, key("u1", "mock:3"), doc("d1", "a.txt"), []port.VectorRecord{
		record("d1", 0, "three dims", 1, 0, 0),
	}))
}

func testConcurrent(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	k := key("u1", "mock:2")
	require.NoError(t, s.Upsert(ctx, k, doc("seed", "seed.txt"), []port.VectorRecord{
		record("seed", 0, "seed", 1, 0),
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("w%d", i)
			if err := s.Upsert(ctx, k, doc(id, id+".txt"), []port.VectorRecord{
				record(id, 0, id, 0, 1),
			}); err != nil {
				errs <- err
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				results, err := s.Query(ctx, k, []float32{1, 0}, 3)
				if err != nil {
					errs <- err
					return
				}
				if len(results) == 0 || results[0].Chunk.Text != "seed" {
					errs <- fmt.Errorf("unexpected results %v", texts(results))
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	docs, err := s.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, docs, 11)
}
