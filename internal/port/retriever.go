package port

import (
	"context"

	"nexqa/internal/domain"
)

// Retriever searches a user's collection for chunks similar to a query.
type Retriever interface {
	// Retrieve returns up to k chunks ordered by non-increasing similarity.
	Retrieve(ctx context.Context, userID, query string, k int) ([]domain.ScoredChunk, error)
}
