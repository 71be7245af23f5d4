package embedding

import (
	"context"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nexqa/config"
	"nexqa/internal/adapter/azureopenai"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Embedder = (*AzureEmbedder)(nil)

// AzureEmbedder calls an Azure OpenAI embedding deployment.
type AzureEmbedder struct {
	client     openai.Client
	deployment string
	dimension  int
	batchSize  int
	timeout    time.Duration
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
}

// NewAzureEmbedder creates an embedder for the given Azure settings. Extra
// request options are appended after the Azure ones.
func NewAzureEmbedder(cfg config.AzureConfig, policy retry.Policy, logger *zap.Logger, opts ...option.RequestOption) (*AzureEmbedder, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, domain.Errorf(domain.KindValidation, "new azure embedder", "AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY are required")
	}
	if cfg.EmbeddingDeployment == "" {
		return nil, domain.Errorf(domain.KindValidation, "new azure embedder", "embedding deployment is required")
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		switch cfg.EmbeddingDeployment {
		case "text-embedding-3-large":
			dimension = 3072
		default:
			dimension = 1536
		}
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	timeout := cfg.EmbedTimeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &AzureEmbedder{
		client:     azureopenai.NewClient(cfg, opts...),
		deployment: cfg.EmbeddingDeployment,
		dimension:  dimension,
		batchSize:  batchSize,
		timeout:    timeout,
		limiter:    azureopenai.NewLimiter(cfg.RequestsPerSecond),
		policy:     policy,
		logger:     logging.OrNop(logger),
	}, nil
}

func (e *AzureEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}
	return all, nil
}

func (e *AzureEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, retry.Classify(ctx, "azure embed", domain.KindProviderTimeout, err)
	}

	var resp *openai.CreateEmbeddingResponse
	err := retry.Do(ctx, e.policy, e.logger, "azure embed", func(ctx context.Context) error {
		var err error
		resp, err = e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.deployment),
		})
		return azureopenai.StatusError(err)
	})
	if err != nil {
		return nil, retry.Classify(ctx, "azure embed", domain.KindProviderTimeout, err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, domain.Errorf(domain.KindProviderUnavailable, "azure embed", "embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vectors[d.Index] = v
	}
	for i, v := range vectors {
		if v == nil {
			return nil, domain.Errorf(domain.KindProviderUnavailable, "azure embed", "missing embedding for input %d", i)
		}
	}

	return checkVectors("azure embed", vectors, len(texts), e.dimension)
}

func (e *AzureEmbedder) Dimension() int {
	return e.dimension
}

func (e *AzureEmbedder) ProviderID() string {
	return config.ProviderAzure + ":" + e.deployment
}

func (e *AzureEmbedder) ModelName() string {
	return e.deployment
}
