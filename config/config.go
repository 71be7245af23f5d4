package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Embedding providers accepted in EMBEDDING_PROVIDER.
const (
	ProviderOllama = "ollama"
	ProviderAzure  = "azure"
)

// Store drivers.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all configuration for nexqa. It is loaded once and passed by
// value into constructors; nothing reads it through globals.
type Config struct {
	Provider   string           `yaml:"provider" toml:"provider"` // "ollama" or "azure"
	Ollama     OllamaConfig     `yaml:"ollama" toml:"ollama"`
	Azure      AzureConfig      `yaml:"azure" toml:"azure"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Ingest     IngestConfig     `yaml:"ingest" toml:"ingest"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" toml:"retrieve"`
	Reranker   RerankerConfig   `yaml:"reranker" toml:"reranker"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	MCP        MCPConfig        `yaml:"mcp" toml:"mcp"`
}

// OllamaConfig configures the local embedding and generation backend.
type OllamaConfig struct {
	BaseURL        string   `yaml:"base_url" toml:"base_url"`
	EmbeddingModel string   `yaml:"embedding_model" toml:"embedding_model"`
	LLMModel       string   `yaml:"llm_model" toml:"llm_model"`
	Dimension      int      `yaml:"dimension" toml:"dimension"`
	Temperature    float64  `yaml:"temperature" toml:"temperature"`
	EmbedTimeout   Duration `yaml:"embed_timeout" toml:"embed_timeout"`
}

// AzureConfig configures the Azure OpenAI backend.
type AzureConfig struct {
	Endpoint            string   `yaml:"endpoint" toml:"endpoint"`
	APIKey              string   `yaml:"-" toml:"-"` // AZURE_OPENAI_API_KEY only
	APIVersion          string   `yaml:"api_version" toml:"api_version"`
	ChatDeployment      string   `yaml:"chat_deployment" toml:"chat_deployment"`
	EmbeddingDeployment string   `yaml:"embedding_deployment" toml:"embedding_deployment"`
	Dimension           int      `yaml:"dimension" toml:"dimension"`
	Temperature         float64  `yaml:"temperature" toml:"temperature"`
	EmbedBatchSize      int      `yaml:"embed_batch_size" toml:"embed_batch_size"`
	RequestsPerSecond   float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	EmbedTimeout        Duration `yaml:"embed_timeout" toml:"embed_timeout"`
}

// ChunkingConfig holds the recursive splitter settings, in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// StoreConfig selects the collection persistence.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"` // CHROMA_DB_PATH
}

// IngestConfig holds directory ingestion filters.
type IngestConfig struct {
	Includes []string `yaml:"includes" toml:"includes"`
	Excludes []string `yaml:"excludes" toml:"excludes"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK          int      `yaml:"top_k" toml:"top_k"`
	MaxTopK       int      `yaml:"max_top_k" toml:"max_top_k"`
	ContextWindow int      `yaml:"context_window" toml:"context_window"`
	UseReranking  bool     `yaml:"use_reranking" toml:"use_reranking"`
	FallbackQuery string   `yaml:"fallback_query" toml:"fallback_query"` // empty disables the retry
	CacheSize     int      `yaml:"cache_size" toml:"cache_size"`
	CacheTTL      Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

// RerankerConfig configures the cross-encoder. An empty URL selects the
// lexical reranker.
type RerankerConfig struct {
	URL       string   `yaml:"url" toml:"url"`
	Model     string   `yaml:"model" toml:"model"`
	APIKeyEnv string   `yaml:"api_key_env" toml:"api_key_env"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
}

// GenerationConfig holds the generation call budgets.
type GenerationConfig struct {
	MaxTokens        int      `yaml:"max_tokens" toml:"max_tokens"`
	Timeout          Duration `yaml:"timeout" toml:"timeout"`
	LongTimeout      Duration `yaml:"long_timeout" toml:"long_timeout"`
	CodegenTimeout   Duration `yaml:"codegen_timeout" toml:"codegen_timeout"`
	MaxAttempts      int      `yaml:"max_attempts" toml:"max_attempts"`
	BackoffBase      Duration `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax       Duration `yaml:"backoff_max" toml:"backoff_max"`
	MaxContextTokens int      `yaml:"max_context_tokens" toml:"max_context_tokens"`
	Encoding         string   `yaml:"encoding" toml:"encoding"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

// MetricsConfig enables the prometheus listener of the serve command.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	DefaultUserID string `yaml:"default_user_id" toml:"default_user_id"`
	Addr          string `yaml:"addr" toml:"addr"` // empty serves stdio
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderOllama,
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text:latest",
			LLMModel:       "gemma3:1b",
			Dimension:      768,
			Temperature:    0.2,
			EmbedTimeout:   Duration(60 * time.Second),
		},
		Azure: AzureConfig{
			APIVersion:          "2024-02-01",
			ChatDeployment:      "gpt-4",
			EmbeddingDeployment: "text-embedding-ada-002",
			Dimension:           1536,
			Temperature:         0.7,
			EmbedBatchSize:      16,
			RequestsPerSecond:   5,
			EmbedTimeout:        Duration(60 * time.Second),
		},
		Chunking: ChunkingConfig{
			Size:    800,
			Overlap: 100,
		},
		Store: StoreConfig{
			Driver: DriverBolt,
			Path:   "./nexqa-db",
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.txt", "**/*.md", "**/*.markdown", "**/*.csv", "**/*.log", "**/*.pdf", "**/*.xlsx", "**/*.xls"},
			Excludes: []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"},
		},
		Retrieve: RetrieveConfig{
			TopK:          5,
			MaxTopK:       50,
			ContextWindow: 3,
			UseReranking:  true,
			FallbackQuery: "about",
			CacheSize:     256,
			CacheTTL:      Duration(5 * time.Minute),
		},
		Reranker: RerankerConfig{
			Model:     "cross-encoder/ms-marco-MiniLM-L-12-v2",
			APIKeyEnv: "RERANKER_API_KEY",
			Timeout:   Duration(30 * time.Second),
		},
		Generation: GenerationConfig{
			MaxTokens:        2048,
			Timeout:          Duration(120 * time.Second),
			LongTimeout:      Duration(300 * time.Second),
			CodegenTimeout:   Duration(60 * time.Second),
			MaxAttempts:      3,
			BackoffBase:      Duration(500 * time.Millisecond),
			BackoffMax:       Duration(5 * time.Second),
			MaxContextTokens: 3000,
			Encoding:         "cl100k_base",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		MCP: MCPConfig{
			DefaultUserID: "mcp_user",
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (nexqa.yaml, nexqa.toml
// or .nexqa/config.yaml, in that order).
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"nexqa.yaml", "nexqa.toml", filepath.Join(".nexqa", "config.yaml")} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto the configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("EMBEDDING_PROVIDER", &c.Provider)
	c.Provider = strings.ToLower(c.Provider)

	str("OLLAMA_BASE_URL", &c.Ollama.BaseURL)
	str("OLLAMA_EMBEDDING_MODEL", &c.Ollama.EmbeddingModel)
	str("OLLAMA_LLM_MODEL", &c.Ollama.LLMModel)
	num("OLLAMA_EMBEDDING_DIMENSION", &c.Ollama.Dimension)

	str("AZURE_OPENAI_ENDPOINT", &c.Azure.Endpoint)
	str("AZURE_OPENAI_API_KEY", &c.Azure.APIKey)
	str("AZURE_OPENAI_API_VERSION", &c.Azure.APIVersion)
	str("AZURE_OPENAI_MODEL", &c.Azure.ChatDeployment)
	str("AZURE_EMBEDDING_MODEL", &c.Azure.EmbeddingDeployment)
	num("AZURE_EMBEDDING_DIMENSION", &c.Azure.Dimension)

	str("CHROMA_DB_PATH", &c.Store.Path)
	str("NEXQA_STORE_DRIVER", &c.Store.Driver)
	str("RERANKER_URL", &c.Reranker.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("MCP_DEFAULT_USER_ID", &c.MCP.DefaultUserID)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DBFile returns the bbolt or sqlite file under the persistence root.
func (c *Config) DBFile() string {
	name := "nexqa.db"
	if c.Store.Driver == DriverSQLite {
		name = "nexqa.sqlite"
	}
	return filepath.Join(c.Store.Path, name)
}

// EnsureStoreDir ensures the persistence root exists.
func (c *Config) EnsureStoreDir() error {
	return os.MkdirAll(c.Store.Path, 0755)
}
