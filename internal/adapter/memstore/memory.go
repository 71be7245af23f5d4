package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexqa/internal/adapter/store"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.CollectionStore = (*MemoryStore)(nil)

type entry struct {
	chunk  domain.Chunk
	vector []float32
	seq    uint64
}

type document struct {
	doc      domain.Document
	chunkIDs []string
}

type collection struct {
	dimension int
	createdAt time.Time
	entries   map[string]entry
	docs      map[string]document
}

// MemoryStore is a process-local CollectionStore. Queries hold the read lock
// for their whole scan, so each one observes a single committed state.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[domain.CollectionKey]*collection
	seq         uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[domain.CollectionKey]*collection)}
}

func (s *MemoryStore) Upsert(ctx context.Context, key domain.CollectionKey, doc domain.Document, records []port.VectorRecord) error {
	dim, err := store.RecordDimension("upsert", records)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.collections {
		if k.UserID == key.UserID && c.dimension != dim {
			return store.MismatchError("upsert", k.ProviderID, c.dimension, dim)
		}
	}

	coll, ok := s.collections[key]
	if !ok {
		coll = &collection{
			dimension: dim,
			createdAt: time.Now(),
			entries:   make(map[string]entry),
			docs:      make(map[string]document),
		}
		s.collections[key] = coll
	}
	coll.remove(doc.ID)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		s.seq++
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		coll.entries[r.Chunk.ID] = entry{chunk: r.Chunk, vector: vec, seq: s.seq}
		ids = append(ids, r.Chunk.ID)
	}
	coll.docs[doc.ID] = document{doc: doc, chunkIDs: ids}
	return nil
}

func (c *collection) remove(docID string) int {
	d, ok := c.docs[docID]
	if !ok {
		return 0
	}
	for _, id := range d.chunkIDs {
		delete(c.entries, id)
	}
	delete(c.docs, docID)
	return len(d.chunkIDs)
}

func (s *MemoryStore) Query(ctx context.Context, key domain.CollectionKey, vector []float32, topK int) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[key]
	if !ok {
		return nil, store.NotFoundError("query", key)
	}
	if coll.dimension != len(vector) {
		return nil, store.MismatchError("query", key.ProviderID, coll.dimension, len(vector))
	}

	candidates := make([]store.Candidate, 0, len(coll.entries))
	for id, e := range coll.entries {
		candidates = append(candidates, store.Candidate{
			ID:    id,
			Seq:   e.seq,
			Score: store.CosineSimilarity(vector, e.vector),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := store.Rank(candidates, topK)

	results := make([]domain.ScoredChunk, 0, len(top))
	for _, cand := range top {
		e := coll.entries[cand.ID]
		results = append(results, domain.ScoredChunk{Chunk: e.chunk, Score: cand.Score, Seq: e.seq})
	}
	return results, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summaries []domain.DocumentSummary
	for k, c := range s.collections {
		if k.UserID != userID {
			continue
		}
		for id, d := range c.docs {
			summaries = append(summaries, domain.DocumentSummary{
				ID:         id,
				UserID:     userID,
				Source:     d.doc.Source,
				Kind:       d.doc.Kind,
				ProviderID: k.ProviderID,
				Chunks:     len(d.chunkIDs),
				IngestedAt: d.doc.IngestedAt,
			})
		}
	}
	store.SortSummaries(summaries)
	return summaries, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, userID, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.collections {
		if k.UserID == userID {
			removed += c.remove(docID)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Collections(ctx context.Context, userID string) ([]domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []domain.CollectionInfo
	for k, c := range s.collections {
		if k.UserID != userID {
			continue
		}
		infos = append(infos, domain.CollectionInfo{
			Key:       k,
			Dimension: c.dimension,
			Documents: len(c.docs),
			Chunks:    len(c.entries),
			CreatedAt: c.createdAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key.ProviderID < infos[j].Key.ProviderID })
	return infos, nil
}

func (s *MemoryStore) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.collections {
		if k.UserID == userID {
			delete(s.collections, k)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
