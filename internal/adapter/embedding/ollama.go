package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Embedder = (*OllamaEmbedder)(nil)

// OllamaEmbedder calls the native batch endpoint of a local Ollama server.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	timeout   time.Duration
	policy    retry.Policy
	client    *http.Client
	logger    *zap.Logger
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaEmbedder creates an embedder for the given Ollama settings.
// Known models override the configured dimension only when it is unset.
func NewOllamaEmbedder(cfg config.OllamaConfig, policy retry.Policy, logger *zap.Logger) (*OllamaEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbeddingModel == "" {
		return nil, domain.Errorf(domain.KindValidation, "new ollama embedder", "embedding model is required")
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		switch strings.SplitN(cfg.EmbeddingModel, ":", 2)[0] {
		case "mxbai-embed-large":
			dimension = 1024
		case "all-minilm":
			dimension = 384
		default:
			dimension = 768
		}
	}

	timeout := cfg.EmbedTimeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OllamaEmbedder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.EmbeddingModel,
		dimension: dimension,
		timeout:   timeout,
		policy:    policy,
		client:    &http.Client{},
		logger:    logging.OrNop(logger),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const maxBatch = 64
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatch {
		end := min(i+maxBatch, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	jsonData, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out ollamaEmbedResponse
	err = retry.Do(ctx, e.policy, e.logger, "ollama embed", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := retry.CheckStatus(resp); err != nil {
			return err
		}
		out = ollamaEmbedResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, retry.Classify(ctx, "ollama embed", domain.KindProviderTimeout, err)
	}
	if out.Error != "" {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "ollama embed", "%s", out.Error)
	}

	return checkVectors("ollama embed", out.Embeddings, len(texts), e.dimension)
}

// Ping checks that the server answers, without running inference.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return retry.Classify(ctx, "ollama ping", domain.KindProviderTimeout, err)
	}
	defer resp.Body.Close()
	if err := retry.CheckStatus(resp); err != nil {
		return retry.Classify(ctx, "ollama ping", domain.KindProviderTimeout, err)
	}
	return nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ProviderID() string {
	return config.ProviderOllama + ":" + e.model
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// checkVectors verifies count and length of a backend response.
func checkVectors(op string, vectors [][]float32, want, dimension int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, domain.Errorf(domain.KindProviderUnavailable, op, "expected %d embeddings, got %d", want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, domain.Errorf(domain.KindDimensionMismatch, op,
				"embedding %d has dimension %d, provider is configured for %d", i, len(v), dimension)
		}
	}
	return vectors, nil
}
