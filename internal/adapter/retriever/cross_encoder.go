package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/analyzer"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// CrossEncoderReranker scores query-passage pairs with a cross-encoder served
// behind an HTTP rerank endpoint (Cohere, Jina and text-embeddings-inference
// all accept this request shape).
type CrossEncoderReranker struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// NewCrossEncoderReranker creates a reranker for the configured endpoint.
// The API key, if any, is read from the environment variable cfg.APIKeyEnv.
func NewCrossEncoderReranker(cfg config.RerankerConfig) (*CrossEncoderReranker, error) {
	if cfg.URL == "" {
		return nil, domain.Errorf(domain.KindValidation, "reranker", "reranker url is not configured")
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	return &CrossEncoderReranker{
		url:    cfg.URL,
		apiKey: apiKey,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Rerank scores and reorders documents based on query relevance.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, retry.Classify(ctx, "rerank", domain.KindProviderTimeout, err)
	}
	defer resp.Body.Close()

	if err := retry.CheckStatus(resp); err != nil {
		return nil, retry.Classify(ctx, "rerank", domain.KindProviderTimeout, err)
	}

	var rerankResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]port.RerankedResult, len(rerankResp.Results))
	for i, res := range rerankResp.Results {
		results[i] = port.RerankedResult{
			Index: res.Index,
			Score: res.RelevanceScore,
		}
	}
	sortResults(results)
	return results, nil
}

// ModelName returns the model name.
func (r *CrossEncoderReranker) ModelName() string {
	return r.model
}

// sortResults orders by score, highest first, keeping input order on ties.
func sortResults(results []port.RerankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
}

// LexicalReranker scores passages by query term coverage. It needs no
// external service and stands in when no cross-encoder is configured.
type LexicalReranker struct {
	tokenizer *analyzer.Tokenizer
}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{tokenizer: analyzer.NewTokenizer()}
}

// Rerank performs term overlap reranking.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	queryTerms := r.tokenizer.Terms(query)
	results := make([]port.RerankedResult, len(documents))

	if len(queryTerms) == 0 {
		for i := range documents {
			results[i] = port.RerankedResult{Index: i, Score: 1.0 - float64(i)*0.01}
		}
		return results, nil
	}

	for i, doc := range documents {
		results[i] = port.RerankedResult{
			Index: i,
			Score: r.termOverlap(queryTerms, doc),
		}
	}
	sortResults(results)
	return results, nil
}

// ModelName returns the model name.
func (r *LexicalReranker) ModelName() string {
	return "lexical-overlap"
}

func (r *LexicalReranker) termOverlap(queryTerms map[string]int, doc string) float64 {
	docTerms := r.tokenizer.Terms(doc)
	if len(docTerms) == 0 {
		return 0
	}

	matches := 0
	for term := range queryTerms {
		if _, exists := docTerms[term]; exists {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}

// NewReranker returns the cross-encoder when an endpoint is configured and
// the lexical reranker otherwise.
func NewReranker(cfg config.RerankerConfig) port.Reranker {
	if cfg.URL != "" {
		if r, err := NewCrossEncoderReranker(cfg); err == nil {
			return r
		}
	}
	return NewLexicalReranker()
}

// Stage narrows retrieved candidates to the context window, reranking them
// first when asked to.
type Stage struct {
	reranker port.Reranker
	logger   *zap.Logger
}

func NewStage(reranker port.Reranker, logger *zap.Logger) *Stage {
	return &Stage{reranker: reranker, logger: logging.OrNop(logger)}
}

// Select returns at most window candidates and whether reranking was applied.
// A failed or inconsistent rerank falls back to the retrieval order.
func (s *Stage) Select(ctx context.Context, query string, candidates []domain.ScoredChunk, window int, rerank bool) ([]domain.ScoredChunk, bool) {
	if window <= 0 || len(candidates) == 0 {
		return nil, false
	}
	if !rerank || s.reranker == nil {
		return truncate(candidates, window), false
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
	}

	reranked, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		s.logger.Warn("reranking failed, keeping retrieval order",
			zap.String("model", s.reranker.ModelName()),
			zap.Error(err))
		return truncate(candidates, window), false
	}

	seen := make(map[int]bool, len(reranked))
	results := make([]domain.ScoredChunk, 0, window)
	for _, res := range reranked {
		if res.Index < 0 || res.Index >= len(candidates) || seen[res.Index] {
			s.logger.Warn("reranker returned an invalid index, keeping retrieval order",
				zap.Int("index", res.Index))
			return truncate(candidates, window), false
		}
		seen[res.Index] = true
		if len(results) < window {
			c := candidates[res.Index]
			c.Score = res.Score
			results = append(results, c)
		}
	}
	if len(results) == 0 {
		return truncate(candidates, window), false
	}
	return results, true
}

func truncate(candidates []domain.ScoredChunk, n int) []domain.ScoredChunk {
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]domain.ScoredChunk, len(candidates))
	copy(out, candidates)
	return out
}
