package port

import (
	"context"

	"nexqa/internal/domain"
)

// VectorRecord pairs a chunk with its embedding.
type VectorRecord struct {
	Chunk  domain.Chunk
	Vector []float32
}

// CollectionStore owns the per-(user, provider) vector collections.
type CollectionStore interface {
	// Upsert writes every chunk vector of doc into the collection for key.
	// A previous version of the same document is replaced. Vectors whose
	// dimension differs from any collection the user already has fail with
	// domain.ErrDimensionMismatch and leave the store unmodified.
	Upsert(ctx context.Context, key domain.CollectionKey, doc domain.Document, records []VectorRecord) error

	// Query returns the topK chunks nearest to vector, by non-increasing
	// cosine similarity with ties in insertion order. A collection that was
	// never written fails with domain.ErrCollectionNotFound.
	Query(ctx context.Context, key domain.CollectionKey, vector []float32, topK int) ([]domain.ScoredChunk, error)

	// ListDocuments returns document summaries across all of a user's collections.
	ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error)

	// DeleteDocument removes a document and its vectors, returning how many chunks went.
	DeleteDocument(ctx context.Context, userID, docID string) (int, error)

	// Collections describes every collection the user owns.
	Collections(ctx context.Context, userID string) ([]domain.CollectionInfo, error)

	// Reset drops every collection of the user.
	Reset(ctx context.Context, userID string) error

	Close() error
}
