package llm

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nexqa/config"
	"nexqa/internal/adapter/azureopenai"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Generator = (*AzureGenerator)(nil)

// AzureGenerator calls an Azure OpenAI chat deployment.
type AzureGenerator struct {
	client     openai.Client
	deployment string
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
}

func NewAzureGenerator(cfg config.AzureConfig, policy retry.Policy, logger *zap.Logger, opts ...option.RequestOption) (*AzureGenerator, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "new azure generator", "AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY are required")
	}
	if cfg.ChatDeployment == "" {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "new azure generator", "AZURE_OPENAI_MODEL is required")
	}
	return &AzureGenerator{
		client:     azureopenai.NewClient(cfg, opts...),
		deployment: cfg.ChatDeployment,
		limiter:    azureopenai.NewLimiter(cfg.RequestsPerSecond),
		policy:     policy,
		logger:     logging.OrNop(logger),
	}, nil
}

func (g *AzureGenerator) params(req port.GenerateRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.deployment),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func (g *AzureGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.Generation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return port.Generation{}, retry.Classify(ctx, "azure generate", domain.KindGenerationTimeout, err)
	}

	var completion *openai.ChatCompletion
	err := retry.Do(ctx, g.policy, g.logger, "azure generate", func(ctx context.Context) error {
		var err error
		completion, err = g.client.Chat.Completions.New(ctx, g.params(req))
		return azureopenai.StatusError(err)
	})
	if err != nil {
		return port.Generation{}, retry.Classify(ctx, "azure generate", domain.KindGenerationTimeout, err)
	}

	var text string
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}
	model := completion.Model
	if model == "" {
		model = g.deployment
	}
	return port.Generation{Text: text, Model: model}, nil
}

// Stream opens a streaming completion. Transient failures are retried until
// the first chunk arrives; after that an error ends the stream.
func (g *AzureGenerator) Stream(ctx context.Context, req port.GenerateRequest) (<-chan domain.StreamEvent, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, retry.Classify(ctx, "azure stream", domain.KindGenerationTimeout, err)
	}

	var stream *ssestream.Stream[openai.ChatCompletionChunk]
	var first openai.ChatCompletionChunk
	started := false
	err := retry.Do(ctx, g.policy, g.logger, "azure stream", func(ctx context.Context) error {
		s := g.client.Chat.Completions.NewStreaming(ctx, g.params(req))
		if s.Next() {
			stream, first, started = s, s.Current(), true
			return nil
		}
		err := s.Err()
		s.Close()
		if err == nil {
			// closed without sending anything
			return nil
		}
		return azureopenai.StatusError(err)
	})
	if err != nil {
		return nil, retry.Classify(ctx, "azure stream", domain.KindGenerationTimeout, err)
	}

	events := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(events)
		if !started {
			finish(ctx, events, domain.StreamEvent{Done: true})
			return
		}
		defer stream.Close()

		chunk := first
		for {
			if token := chunkText(chunk); token != "" {
				if !emit(ctx, events, domain.StreamEvent{Token: token}) {
					finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "azure stream", domain.KindGenerationTimeout, ctx.Err())})
					return
				}
			}
			if !stream.Next() {
				break
			}
			chunk = stream.Current()
		}

		if err := stream.Err(); err != nil {
			finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "azure stream", domain.KindGenerationTimeout, azureopenai.StatusError(err))})
			return
		}
		finish(ctx, events, domain.StreamEvent{Done: true})
	}()
	return events, nil
}

func chunkText(chunk openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func (g *AzureGenerator) ModelName() string {
	return g.deployment
}
