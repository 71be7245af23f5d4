package retriever

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nexqa/internal/adapter/logging"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Retriever = (*SemanticRetriever)(nil)

// SemanticRetriever embeds the query with the configured provider and
// searches the user's collection for that provider.
type SemanticRetriever struct {
	store    port.CollectionStore
	embedder port.Embedder
	logger   *zap.Logger
}

func NewSemanticRetriever(store port.CollectionStore, embedder port.Embedder, logger *zap.Logger) *SemanticRetriever {
	return &SemanticRetriever{
		store:    store,
		embedder: embedder,
		logger:   logging.OrNop(logger),
	}
}

// Retrieve returns up to k chunks by non-increasing similarity. A user with
// no collection yet gets an empty result rather than an error.
func (r *SemanticRetriever) Retrieve(ctx context.Context, userID, query string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, domain.Errorf(domain.KindValidation, "retrieve", "k must be positive, got %d", k)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "retrieve", "embedding returned empty result")
	}

	key := domain.CollectionKey{UserID: userID, ProviderID: r.embedder.ProviderID()}
	results, err := r.store.Query(ctx, key, embeddings[0], k)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		r.logger.Debug("no collection for user", zap.String("collection", key.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieved chunks",
		zap.String("collection", key.String()),
		zap.Int("k", k),
		zap.Int("results", len(results)))
	return results, nil
}
