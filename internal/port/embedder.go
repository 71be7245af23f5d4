package port

import "context"

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of every vector this embedder produces.
	Dimension() int

	// ProviderID identifies the embedding space, e.g. "ollama:nomic-embed-text".
	// It is recorded with every collection the embedder populates.
	ProviderID() string

	// ModelName returns the name of the embedding model.
	ModelName() string
}
