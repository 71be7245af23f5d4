// Package llm holds the generation clients: Ollama for local models and
// Azure OpenAI for cloud models, both behind port.Generator.
package llm

import (
	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// Registry resolves which generator serves a request mode. Backends that
// could not be configured are remembered with the reason.
type Registry struct {
	provider string
	local    port.Generator
	cloud    port.Generator
	localErr error
	cloudErr error
}

// NewRegistry builds both backends from configuration. A backend missing its
// settings does not fail construction; requests routed to it do.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	policy := retry.PolicyFrom(cfg.Generation)
	r := &Registry{provider: cfg.Provider}

	if g, err := NewOllamaGenerator(cfg.Ollama, policy, logger); err != nil {
		r.localErr = err
	} else {
		r.local = g
	}
	if g, err := NewAzureGenerator(cfg.Azure, policy, logger); err != nil {
		r.cloudErr = err
	} else {
		r.cloud = g
	}
	return r
}

// NewRegistryWith wraps ready-made generators. Either may be nil.
func NewRegistryWith(provider string, local, cloud port.Generator) *Registry {
	return &Registry{provider: provider, local: local, cloud: cloud}
}

// For returns the generator for mode. The default mode follows the
// embedding provider: ollama pairs with the local model, azure with the cloud.
func (r *Registry) For(mode domain.Mode) (port.Generator, error) {
	switch mode {
	case domain.ModeOffline:
		return r.pick(r.local, r.localErr, "local")
	case domain.ModeOnline:
		return r.pick(r.cloud, r.cloudErr, "cloud")
	case domain.ModeDefault:
		if r.provider == config.ProviderAzure {
			return r.pick(r.cloud, r.cloudErr, "cloud")
		}
		return r.pick(r.local, r.localErr, "local")
	default:
		return nil, domain.Errorf(domain.KindValidation, "select generator", "unknown mode %q", mode)
	}
}

func (r *Registry) pick(g port.Generator, cause error, name string) (port.Generator, error) {
	if g != nil {
		return g, nil
	}
	if cause != nil {
		return nil, domain.Wrap(domain.KindProviderUnavailable, "select generator", cause)
	}
	return nil, domain.Errorf(domain.KindProviderUnavailable, "select generator", "no %s language model is configured", name)
}
