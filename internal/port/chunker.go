package port

import "nexqa/internal/domain"

// Chunker splits a document's text into ordered, overlapping chunks.
type Chunker interface {
	Chunk(doc domain.Document) ([]domain.Chunk, error)
}
