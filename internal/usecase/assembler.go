package usecase

import (
	"time"

	"go.uber.org/zap"

	"nexqa/internal/adapter/logging"
	"nexqa/internal/domain"
)

// NoResponseMessage replaces an empty model answer.
const NoResponseMessage = "No response generated. Please try again or provide more context."

// Observer receives pipeline events, typically to export metrics.
type Observer interface {
	// QueryFinished is called once per query; kind is empty on success.
	QueryFinished(queryType string, kind domain.Kind, latency time.Duration)
	ChunksIngested(providerID string, n int)
	// RerankFallback is called when reranking was requested but the
	// retrieval order was kept.
	RerankFallback()
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) QueryFinished(string, domain.Kind, time.Duration) {}
func (NopObserver) ChunksIngested(string, int)                       {}
func (NopObserver) RerankFallback()                                  {}

// Envelope carries the request facts an answer is stamped with.
type Envelope struct {
	RequestID string
	Start     time.Time
	Type      domain.QueryType
	Model     string
	Mode      domain.Mode
	UserID    string
}

// Assembler packages generated text with its sources and timing.
type Assembler struct {
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

func NewAssembler(observer Observer, logger *zap.Logger) *Assembler {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Assembler{observer: observer, logger: logging.OrNop(logger), now: time.Now}
}

// Assemble builds the answer for text generated from chunks.
func (a *Assembler) Assemble(env Envelope, text string, chunks []domain.ScoredChunk) domain.Answer {
	if isBlank(text) {
		text = NoResponseMessage
	}
	latency := a.now().Sub(env.Start)

	ans := domain.Answer{
		Response:  text,
		Type:      env.Type.String(),
		Sources:   Sources(chunks),
		LatencyMS: latency.Milliseconds(),
		RequestID: env.RequestID,
		Model:     env.Model,
		Mode:      env.Mode,
	}

	a.observer.QueryFinished(ans.Type, "", latency)
	a.logger.Info("query answered",
		zap.String("request_id", env.RequestID),
		zap.String("user_id", env.UserID),
		zap.String("query_type", ans.Type),
		zap.String("model", env.Model),
		zap.Int("sources", len(ans.Sources)),
		zap.Duration("latency", latency))
	return ans
}

// Fail records a query that ended with err.
func (a *Assembler) Fail(env Envelope, err error) {
	latency := a.now().Sub(env.Start)
	kind := domain.KindOf(err)
	a.observer.QueryFinished(env.Type.String(), kind, latency)
	a.logger.Warn("query failed",
		zap.String("request_id", env.RequestID),
		zap.String("user_id", env.UserID),
		zap.String("query_type", env.Type.String()),
		zap.String("kind", string(kind)),
		zap.Duration("latency", latency),
		zap.Error(err))
}

// Sources converts chunks into attributions. Metadata maps are copied.
func Sources(chunks []domain.ScoredChunk) []domain.Source {
	sources := make([]domain.Source, 0, len(chunks))
	for _, c := range chunks {
		meta := make(map[string]string, len(c.Chunk.Metadata)+1)
		for k, v := range c.Chunk.Metadata {
			meta[k] = v
		}
		if _, ok := meta[domain.MetaDocumentID]; !ok && c.Chunk.DocID != "" {
			meta[domain.MetaDocumentID] = c.Chunk.DocID
		}
		sources = append(sources, domain.Source{Content: c.Chunk.Text, Metadata: meta})
	}
	return sources
}

// SourceName is the file name or URL a chunk came from.
func SourceName(c domain.Chunk) string {
	if v := c.Metadata[domain.MetaFileName]; v != "" {
		return v
	}
	if v := c.Metadata[domain.MetaURL]; v != "" {
		return v
	}
	return c.DocID
}
