package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder hashes lowercase words into a fixed number of buckets, so texts
// sharing words get similar vectors. It needs no backend.
type MockEmbedder struct {
	dimension int
	name      string
	err       error
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, name: "mock"}
}

// WithName returns a copy reporting a different model name, which changes
// its provider id.
func (e *MockEmbedder) WithName(name string) *MockEmbedder {
	c := *e
	c.name = name
	return &c
}

// Fail makes every later Embed call return err.
func (e *MockEmbedder) Fail(err error) {
	e.err = err
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dimension)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%uint32(e.dimension)] += 1
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range v {
				v[j] *= inv
			}
		}
		embeddings[i] = v
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ProviderID() string {
	return fmt.Sprintf("%s:%d", e.name, e.dimension)
}

func (e *MockEmbedder) ModelName() string {
	return e.name
}
