package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Generator = (*MockGenerator)(nil)

// MockGenerator replays canned tokens, optionally pausing before each one.
// It records every request it receives.
type MockGenerator struct {
	Tokens []string
	Delay  time.Duration
	Err    error
	Name   string

	mu       sync.Mutex
	requests []port.GenerateRequest
}

func NewMockGenerator(tokens ...string) *MockGenerator {
	return &MockGenerator{Tokens: tokens, Name: "mock-llm"}
}

// Requests returns the requests seen so far.
func (g *MockGenerator) Requests() []port.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]port.GenerateRequest(nil), g.requests...)
}

func (g *MockGenerator) record(req port.GenerateRequest) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
}

func (g *MockGenerator) wait(ctx context.Context) error {
	if g.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *MockGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.Generation, error) {
	g.record(req)
	if g.Err != nil {
		return port.Generation{}, g.Err
	}
	var b strings.Builder
	for _, tok := range g.Tokens {
		if err := g.wait(ctx); err != nil {
			return port.Generation{}, retry.Classify(ctx, "mock generate", domain.KindGenerationTimeout, err)
		}
		b.WriteString(tok)
	}
	return port.Generation{Text: b.String(), Model: g.Name}, nil
}

func (g *MockGenerator) Stream(ctx context.Context, req port.GenerateRequest) (<-chan domain.StreamEvent, error) {
	g.record(req)
	if g.Err != nil {
		return nil, g.Err
	}

	events := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(events)
		for _, tok := range g.Tokens {
			if err := g.wait(ctx); err != nil {
				finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "mock stream", domain.KindGenerationTimeout, err)})
				return
			}
			if !emit(ctx, events, domain.StreamEvent{Token: tok}) {
				finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "mock stream", domain.KindGenerationTimeout, ctx.Err())})
				return
			}
		}
		finish(ctx, events, domain.StreamEvent{Done: true})
	}()
	return events, nil
}

func (g *MockGenerator) ModelName() string {
	return g.Name
}
