package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

// Has reports whether a field failed validation.
func (errs ValidationErrors) Has(field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate checks the configuration at startup.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Provider {
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			add("ollama.base_url", "ollama base url is required")
		}
		if c.Ollama.EmbeddingModel == "" {
			add("ollama.embedding_model", "ollama embedding model is required")
		}
		if c.Ollama.Dimension <= 0 {
			add("ollama.dimension", "dimension must be positive, got %d", c.Ollama.Dimension)
		}
	case ProviderAzure:
		if c.Azure.Endpoint == "" {
			add("azure.endpoint", "AZURE_OPENAI_ENDPOINT is required for the azure provider")
		}
		if c.Azure.APIKey == "" {
			add("azure.api_key", "AZURE_OPENAI_API_KEY is required for the azure provider")
		}
		if c.Azure.EmbeddingDeployment == "" {
			add("azure.embedding_deployment", "azure embedding deployment is required")
		}
		if c.Azure.Dimension <= 0 {
			add("azure.dimension", "dimension must be positive, got %d", c.Azure.Dimension)
		}
	default:
		add("provider", "unsupported embedding provider %q (want %q or %q)", c.Provider, ProviderOllama, ProviderAzure)
	}

	if c.Chunking.Size <= 0 {
		add("chunking.size", "chunk size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		add("chunking.overlap", "chunk overlap must not be negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap", "chunk overlap (%d) must be smaller than chunk size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}

	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
		if c.Store.Path == "" {
			add("store.path", "CHROMA_DB_PATH is required for the %s driver", c.Store.Driver)
		}
	case DriverMemory:
	default:
		add("store.driver", "unsupported store driver %q", c.Store.Driver)
	}

	if c.Retrieve.TopK <= 0 {
		add("retrieve.top_k", "top_k must be positive, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.MaxTopK < c.Retrieve.TopK {
		add("retrieve.max_top_k", "max_top_k (%d) must be at least top_k (%d)", c.Retrieve.MaxTopK, c.Retrieve.TopK)
	}
	if c.Retrieve.ContextWindow < 1 || c.Retrieve.ContextWindow > 10 {
		add("retrieve.context_window", "context window must be between 1 and 10, got %d", c.Retrieve.ContextWindow)
	}

	if c.Generation.Timeout <= 0 || c.Generation.LongTimeout <= 0 || c.Generation.CodegenTimeout <= 0 {
		add("generation.timeout", "generation timeouts must be positive")
	}
	if c.Generation.MaxAttempts < 1 || c.Generation.MaxAttempts > 5 {
		add("generation.max_attempts", "max attempts must be between 1 and 5, got %d", c.Generation.MaxAttempts)
	}
	if c.Generation.BackoffMax < c.Generation.BackoffBase {
		add("generation.backoff_max", "backoff_max must not be below backoff_base")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "unsupported log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		add("logging.format", "unsupported log format %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
