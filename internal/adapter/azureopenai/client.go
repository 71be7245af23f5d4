// Package azureopenai builds the Azure OpenAI client shared by the embedding
// and chat adapters.
package azureopenai

import (
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/azure"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/time/rate"

	"nexqa/config"
	"nexqa/internal/adapter/retry"
)

// NewClient returns a client bound to the configured endpoint. SDK retries
// are disabled; callers retry through the retry package. Extra options are
// applied last.
func NewClient(cfg config.AzureConfig, extra ...option.RequestOption) openai.Client {
	opts := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	return openai.NewClient(append(opts, extra...)...)
}

// NewLimiter returns a limiter allowing rps requests per second, or an
// unlimited one when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// StatusError turns SDK API errors into *retry.StatusError so the retry
// policy can see the HTTP status.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return fmt.Errorf("azure request: %w", err)
}
