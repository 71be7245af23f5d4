package embedding

import (
	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg *config.Config, logger *zap.Logger) (port.Embedder, error) {
	policy := retry.PolicyFrom(cfg.Generation)

	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.Ollama, policy, logger)
	case config.ProviderAzure:
		return NewAzureEmbedder(cfg.Azure, policy, logger)
	default:
		return nil, domain.Errorf(domain.KindValidation, "new embedder", "unsupported embedding provider %q", cfg.Provider)
	}
}
