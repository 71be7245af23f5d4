package port

import (
	"context"

	"nexqa/internal/domain"
)

// GenerateRequest is one prompt pair sent to a language model.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Generation is the result of a blocking call.
type Generation struct {
	Text  string
	Model string
}

// Generator is the uniform contract over local and cloud language models.
type Generator interface {
	// Generate blocks until the full answer is available or ctx ends.
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)

	// Stream starts a generation and delivers tokens on the returned channel.
	// The channel is closed after a Done or Err event. Cancelling ctx aborts
	// the underlying request.
	Stream(ctx context.Context, req GenerateRequest) (<-chan domain.StreamEvent, error)

	// ModelName returns the name of the model.
	ModelName() string
}
