package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nexqa/config"
	"nexqa/internal/adapter/analyzer"
	"nexqa/internal/adapter/chunker"
	"nexqa/internal/adapter/embedding"
	"nexqa/internal/adapter/fs"
	"nexqa/internal/adapter/llm"
	"nexqa/internal/adapter/memstore"
	"nexqa/internal/adapter/prompt"
	"nexqa/internal/adapter/retriever"
	"nexqa/internal/domain"
	"nexqa/internal/usecase"
)

func newTestServer(t *testing.T, gen *llm.MockGenerator) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	logger := zaptest.NewLogger(t)

	store := memstore.NewMemoryStore()
	emb := embedding.NewMockEmbedder(32)
	ch, err := chunker.NewRecursiveChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	require.NoError(t, err)
	router, err := prompt.NewRouter()
	require.NoError(t, err)

	ingest := usecase.NewIngestUseCase(store, emb, ch, fs.NewPlainTextExtractor(),
		fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes), logger)
	query := usecase.NewQueryUseCase(cfg, retriever.NewSemanticRetriever(store, emb, logger),
		retriever.NewStage(retriever.NewLexicalReranker(), logger), router,
		llm.NewRegistryWith(cfg.Provider, gen, nil), analyzer.NewTokenizer(), logger)

	s, err := NewServer(ingest, query, "", true, logger)
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	t.Run("missing services returns error", func(t *testing.T) {
		s, err := NewServer(nil, nil, "", true, nil)
		require.Error(t, err)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrMissingService)
	})

	t.Run("blank default user falls back", func(t *testing.T) {
		s := newTestServer(t, llm.NewMockGenerator("ok"))
		assert.Equal(t, DefaultUserID, s.user("  "))
		assert.Equal(t, "alice", s.user("alice"))
		assert.NotNil(t, s.Handler())
	})
}

func TestServer_ingestSearchAndQuery(t *testing.T) {
	ctx := context.Background()
	gen := llm.NewMockGenerator("Deploys run nightly.")
	s := newTestServer(t, gen)

	_, summary, err := s.handleIngestText(ctx, nil, IngestTextInput{
		Text:   "Deployments run every night at two. Rollbacks need approval.",
		Source: "https://wiki.example.com/deploy",
		Kind:   "url",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultUserID, summary.UserID)
	assert.Equal(t, domain.SourceURL, summary.Kind)

	_, found, err := s.handleSearch(ctx, nil, SearchInput{Query: "deployments"})
	require.NoError(t, err)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "https://wiki.example.com/deploy", found.Results[0].Metadata[domain.MetaURL])

	_, ans, err := s.handleQuery(ctx, nil, QueryInput{Query: "when do deploys run", QueryType: "ask"})
	require.NoError(t, err)
	assert.Equal(t, "qa", ans.Type)
	assert.Equal(t, "Deploys run nightly.", ans.Response)
	assert.Len(t, ans.Sources, 1)

	_, list, err := s.handleList(ctx, nil, UserInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	_, del, err := s.handleDelete(ctx, nil, DeleteInput{Document: summary.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, del.Removed)

	_, _, err = s.handleDelete(ctx, nil, DeleteInput{Document: summary.ID})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestServer_ingestPathReportsSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("Install with make."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sheet.xlsx"), []byte("PK\x03\x04"), 0644))

	s := newTestServer(t, llm.NewMockGenerator("ok"))
	_, out, err := s.handleIngestPath(context.Background(), nil, IngestPathInput{Path: dir, UserID: "ops"})
	require.NoError(t, err)

	assert.Len(t, out.Documents, 1)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, string(domain.KindUnsupportedDocument), out.Skipped[0].Kind)
}

func TestServer_queryErrorsCarryKind(t *testing.T) {
	s := newTestServer(t, llm.NewMockGenerator("ok"))

	_, _, err := s.handleQuery(context.Background(), nil, QueryInput{Query: "q", QueryType: "poem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(domain.KindValidation))

	_, _, err = s.handleQuery(context.Background(), nil, QueryInput{Query: "q", Mode: "online"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(domain.KindProviderUnavailable))
}
