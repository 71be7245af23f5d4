package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"nexqa/internal/adapter/logging"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var (
	bucketMeta        = []byte("meta")
	bucketCollections = []byte("collections")
	bucketVectors     = []byte("vectors")
	bucketChunks      = []byte("chunks")
	bucketDocs        = []byte("docs")
	keyInfo           = []byte("info")
)

var _ port.CollectionStore = (*BoltStore)(nil)

// BoltStore keeps every collection as a nested bucket of one bbolt file.
// Searches run inside a read transaction, so each query sees a consistent
// snapshot while writers proceed.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

type collectionMeta struct {
	UserID     string `json:"user_id"`
	ProviderID string `json:"provider_id"`
	Dimension  int    `json:"dimension"`
	CreatedAt  int64  `json:"created_at"`
}

type docMeta struct {
	Source     string   `json:"source"`
	Kind       string   `json:"kind"`
	IngestedAt int64    `json:"ingested_at"`
	ChunkIDs   []string `json:"chunk_ids"`
}

type chunkMeta struct {
	DocID    string            `json:"doc_id"`
	Seq      int               `json:"seq"`
	Text     string            `json:"text"`
	Start    int               `json:"start"`
	End      int               `json:"end"`
	Overlap  int               `json:"overlap"`
	Metadata map[string]string `json:"m,omitempty"`
}

func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketCollections} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, logger: logging.OrNop(logger)}, nil
}

func collectionName(key domain.CollectionKey) []byte {
	return []byte(key.UserID + "\x00" + key.ProviderID)
}

func userPrefix(userID string) []byte {
	return []byte(userID + "\x00")
}

func readInfo(coll *bbolt.Bucket) (collectionMeta, error) {
	var info collectionMeta
	data := coll.Get(keyInfo)
	if data == nil {
		return info, fmt.Errorf("collection without info record")
	}
	err := json.Unmarshal(data, &info)
	return info, err
}

// userCollections returns the names of every collection bucket of a user.
func userCollections(root *bbolt.Bucket, userID string) [][]byte {
	prefix := userPrefix(userID)
	var names [][]byte
	c := root.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		names = append(names, append([]byte(nil), k...))
	}
	return names
}

func (s *BoltStore) Upsert(ctx context.Context, key domain.CollectionKey, doc domain.Document, records []port.VectorRecord) error {
	dim, err := RecordDimension("upsert", records)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)

		for _, name := range userCollections(root, key.UserID) {
			info, err := readInfo(root.Bucket(name))
			if err != nil {
				return err
			}
			if info.Dimension != dim {
				return MismatchError("upsert", info.ProviderID, info.Dimension, dim)
			}
		}

		coll, err := ensureCollection(root, key, dim)
		if err != nil {
			return err
		}
		if _, err := removeDocument(coll, doc.ID); err != nil {
			return err
		}

		vectors := coll.Bucket(bucketVectors)
		chunks := coll.Bucket(bucketChunks)
		ids := make([]string, 0, len(records))
		for _, r := range records {
			seq, err := coll.NextSequence()
			if err != nil {
				return err
			}
			if err := vectors.Put([]byte(r.Chunk.ID), encodeVector(seq, r.Vector)); err != nil {
				return err
			}
			data, err := json.Marshal(chunkMeta{
				DocID:    doc.ID,
				Seq:      r.Chunk.Seq,
				Text:     r.Chunk.Text,
				Start:    r.Chunk.Start,
				End:      r.Chunk.End,
				Overlap:  r.Chunk.Overlap,
				Metadata: r.Chunk.Metadata,
			})
			if err != nil {
				return err
			}
			if err := chunks.Put([]byte(r.Chunk.ID), data); err != nil {
				return err
			}
			ids = append(ids, r.Chunk.ID)
		}

		data, err := json.Marshal(docMeta{
			Source:     doc.Source,
			Kind:       string(doc.Kind),
			IngestedAt: doc.IngestedAt.Unix(),
			ChunkIDs:   ids,
		})
		if err != nil {
			return err
		}
		return coll.Bucket(bucketDocs).Put([]byte(doc.ID), data)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("upserted document",
		zap.String("collection", key.String()),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(records)))
	return nil
}

func ensureCollection(root *bbolt.Bucket, key domain.CollectionKey, dim int) (*bbolt.Bucket, error) {
	name := collectionName(key)
	if coll := root.Bucket(name); coll != nil {
		return coll, nil
	}

	coll, err := root.CreateBucket(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", key, err)
	}
	for _, b := range [][]byte{bucketVectors, bucketChunks, bucketDocs} {
		if _, err := coll.CreateBucket(b); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(collectionMeta{
		UserID:     key.UserID,
		ProviderID: key.ProviderID,
		Dimension:  dim,
		CreatedAt:  time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return coll, coll.Put(keyInfo, data)
}

// removeDocument deletes a document and its chunks from one collection.
func removeDocument(coll *bbolt.Bucket, docID string) (int, error) {
	docs := coll.Bucket(bucketDocs)
	data := docs.Get([]byte(docID))
	if data == nil {
		return 0, nil
	}
	var meta docMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0, err
	}

	vectors := coll.Bucket(bucketVectors)
	chunks := coll.Bucket(bucketChunks)
	for _, id := range meta.ChunkIDs {
		if err := vectors.Delete([]byte(id)); err != nil {
			return 0, err
		}
		if err := chunks.Delete([]byte(id)); err != nil {
			return 0, err
		}
	}
	return len(meta.ChunkIDs), docs.Delete([]byte(docID))
}

func (s *BoltStore) Query(ctx context.Context, key domain.CollectionKey, vector []float32, topK int) ([]domain.ScoredChunk, error) {
	var results []domain.ScoredChunk

	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(bucketCollections).Bucket(collectionName(key))
		if coll == nil {
			return NotFoundError("query", key)
		}
		info, err := readInfo(coll)
		if err != nil {
			return err
		}
		if info.Dimension != len(vector) {
			return MismatchError("query", info.ProviderID, info.Dimension, len(vector))
		}

		var candidates []Candidate
		c := coll.Bucket(bucketVectors).Cursor()
		n := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if n++; n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			seq, vec, err := decodeVector(v)
			if err != nil {
				s.logger.Warn("skipping corrupt vector", zap.ByteString("chunk_id", k), zap.Error(err))
				continue
			}
			candidates = append(candidates, Candidate{
				ID:    string(k),
				Seq:   seq,
				Score: CosineSimilarity(vector, vec),
			})
		}

		chunks := coll.Bucket(bucketChunks)
		for _, cand := range Rank(candidates, topK) {
			data := chunks.Get([]byte(cand.ID))
			if data == nil {
				continue
			}
			var meta chunkMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return err
			}
			results = append(results, domain.ScoredChunk{
				Chunk: domain.Chunk{
					ID:       cand.ID,
					DocID:    meta.DocID,
					Seq:      meta.Seq,
					Text:     meta.Text,
					Start:    meta.Start,
					End:      meta.End,
					Overlap:  meta.Overlap,
					Metadata: meta.Metadata,
				},
				Score: cand.Score,
				Seq:   cand.Seq,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BoltStore) ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error) {
	var summaries []domain.DocumentSummary

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		for _, name := range userCollections(root, userID) {
			coll := root.Bucket(name)
			info, err := readInfo(coll)
			if err != nil {
				return err
			}
			err = coll.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
				var meta docMeta
				if err := json.Unmarshal(v, &meta); err != nil {
					return err
				}
				summaries = append(summaries, domain.DocumentSummary{
					ID:         string(k),
					UserID:     userID,
					Source:     meta.Source,
					Kind:       domain.SourceKind(meta.Kind),
					ProviderID: info.ProviderID,
					Chunks:     len(meta.ChunkIDs),
					IngestedAt: time.Unix(meta.IngestedAt, 0),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	SortSummaries(summaries)
	return summaries, nil
}

// SortSummaries orders listings newest first, then by source.
func SortSummaries(summaries []domain.DocumentSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].IngestedAt.Equal(summaries[j].IngestedAt) {
			return summaries[i].IngestedAt.After(summaries[j].IngestedAt)
		}
		return summaries[i].Source < summaries[j].Source
	})
}

func (s *BoltStore) DeleteDocument(ctx context.Context, userID, docID string) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		for _, name := range userCollections(root, userID) {
			n, err := removeDocument(root.Bucket(name), docID)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) Collections(ctx context.Context, userID string) ([]domain.CollectionInfo, error) {
	var infos []domain.CollectionInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		for _, name := range userCollections(root, userID) {
			coll := root.Bucket(name)
			info, err := readInfo(coll)
			if err != nil {
				return err
			}
			infos = append(infos, domain.CollectionInfo{
				Key:       domain.CollectionKey{UserID: info.UserID, ProviderID: info.ProviderID},
				Dimension: info.Dimension,
				Documents: coll.Bucket(bucketDocs).Stats().KeyN,
				Chunks:    coll.Bucket(bucketVectors).Stats().KeyN,
				CreatedAt: time.Unix(info.CreatedAt, 0),
			})
		}
		return nil
	})
	return infos, err
}

func (s *BoltStore) Reset(ctx context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		for _, name := range userCollections(root, userID) {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
