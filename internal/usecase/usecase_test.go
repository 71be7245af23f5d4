package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nexqa/config"
	"nexqa/internal/adapter/analyzer"
	"nexqa/internal/adapter/cache"
	"nexqa/internal/adapter/chunker"
	"nexqa/internal/adapter/embedding"
	"nexqa/internal/adapter/fs"
	"nexqa/internal/adapter/llm"
	"nexqa/internal/adapter/memstore"
	"nexqa/internal/adapter/prompt"
	"nexqa/internal/adapter/retriever"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

type recordingObserver struct {
	mu        sync.Mutex
	queries   []domain.Kind
	chunks    int
	fallbacks int
}

func (o *recordingObserver) QueryFinished(_ string, kind domain.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, kind)
}

func (o *recordingObserver) ChunksIngested(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks += n
}

func (o *recordingObserver) RerankFallback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []string) ([]port.RerankedResult, error) {
	return nil, errors.New("model not loaded")
}

func (failingReranker) ModelName() string { return "broken" }

type fixture struct {
	cfg      *config.Config
	store    port.CollectionStore
	embedder *embedding.MockEmbedder
	gen      *llm.MockGenerator
	observer *recordingObserver
	ingest   *IngestUseCase
	query    *QueryUseCase
}

func newFixture(t *testing.T, mutate func(cfg *config.Config), reranker port.Reranker) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.DriverMemory
	if mutate != nil {
		mutate(cfg)
	}
	if reranker == nil {
		reranker = retriever.NewLexicalReranker()
	}

	logger := zaptest.NewLogger(t)
	store := memstore.NewMemoryStore()
	emb := embedding.NewMockEmbedder(64)
	ch, err := chunker.NewRecursiveChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	require.NoError(t, err)
	router, err := prompt.NewRouter()
	require.NoError(t, err)

	obs := &recordingObserver{}
	cached := cache.NewCachedRetriever(
		retriever.NewSemanticRetriever(store, emb, logger),
		cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL.Std()),
		emb.ProviderID(),
	)
	gen := llm.NewMockGenerator("The answer.")

	return &fixture{
		cfg:      cfg,
		store:    store,
		embedder: emb,
		gen:      gen,
		observer: obs,
		ingest: NewIngestUseCase(store, emb, ch, fs.NewPlainTextExtractor(),
			fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes), logger,
			WithInvalidator(cached), WithIngestObserver(obs)),
		query: NewQueryUseCase(cfg, cached, retriever.NewStage(reranker, logger), router,
			llm.NewRegistryWith(cfg.Provider, gen, nil), analyzer.NewTokenizer(), logger,
			WithQueryObserver(obs)),
	}
}

func TestScenarioIngestAndRetrieve(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	text := strings.Repeat("word ", 400)
	summary, err := f.ingest.IngestText(ctx, "alice", "words.txt", domain.SourceFile, text)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Chunks)
	assert.Equal(t, DocumentID("alice", "words.txt"), summary.ID)
	assert.Equal(t, f.embedder.ProviderID(), summary.ProviderID)
	assert.Equal(t, 3, f.observer.chunks)

	results, err := f.query.Search(ctx, "alice", "word", 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	seqs := map[int]bool{}
	for _, r := range results {
		seqs[r.Chunk.Seq] = true
		assert.Equal(t, summary.ID, r.Chunk.DocID)
	}
	assert.Len(t, seqs, 3)
}

func TestScenarioTestCaseTable(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.gen.Tokens = []string{
		"| S.no | Summary | Expected Results |\n",
		"|---|---|---|\n",
		"| 1 | Valid login | User lands on the dashboard |\n",
	}

	_, err := f.ingest.IngestText(ctx, "alice", "login.md", domain.SourceFile,
		"The login form accepts an email and a password. Invalid passwords show an error banner.")
	require.NoError(t, err)

	ans, err := f.query.Query(ctx, domain.QueryRequest{
		Query:        "write test cases for the login form",
		Type:         domain.QueryTestCase,
		UseReranking: true,
		UserID:       "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "test_case", ans.Type)
	assert.Contains(t, ans.Response, "|---|")
	assert.True(t, hasPipeRow(ans.Response))
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "login.md", ans.Sources[0].Metadata[domain.MetaFileName])
	assert.Equal(t, "alice", ans.Sources[0].Metadata[domain.MetaUserID])
	assert.NotEmpty(t, ans.RequestID)
	assert.Equal(t, "mock-llm", ans.Model)
	assert.Equal(t, domain.ModeOffline, ans.Mode)
	assert.GreaterOrEqual(t, ans.LatencyMS, int64(0))

	reqs := f.gen.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, "pipe table")
	assert.Contains(t, reqs[0].User, "login.md")
	assert.Equal(t, f.cfg.Ollama.Temperature, reqs[0].Temperature)
	assert.Equal(t, []domain.Kind{""}, f.observer.queries)
}

func hasPipeRow(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && strings.Count(line, "|") >= 3 {
			return true
		}
	}
	return false
}

func TestScenarioGenerationTimeout(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.gen.Tokens = []string{"slow ", "answer"}
	f.gen.Delay = 2 * time.Second

	_, err := f.ingest.IngestText(ctx, "alice", "notes.txt", domain.SourceFile, "release notes for version two")
	require.NoError(t, err)

	limit := 100 * time.Millisecond
	for _, stream := range []bool{false, true} {
		start := time.Now()
		_, err = f.query.Query(ctx, domain.QueryRequest{
			Query:   "what changed",
			Mode:    domain.ModeOffline,
			UserID:  "alice",
			Stream:  stream,
			Timeout: limit,
		})
		elapsed := time.Since(start)

		require.Error(t, err, "stream=%v", stream)
		assert.True(t, errors.Is(err, domain.ErrGenerationTimeout), "stream=%v: %v", stream, err)
		assert.Less(t, elapsed, limit+time.Second, "stream=%v", stream)
	}
	assert.Equal(t, domain.KindGenerationTimeout, f.observer.queries[len(f.observer.queries)-1])
}

func TestStreamTimeoutKeepsPartial(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.gen.Tokens = []string{"first ", "second ", "third ", "fourth"}
	f.gen.Delay = 40 * time.Millisecond

	var delivered strings.Builder
	_, err := f.query.QueryStream(ctx, domain.QueryRequest{
		Query:   "anything",
		UserID:  "bob",
		Timeout: 100 * time.Millisecond,
	}, func(tok string) { delivered.WriteString(tok) })

	require.Error(t, err)
	assert.Equal(t, domain.KindGenerationTimeout, domain.KindOf(err))
	assert.Equal(t, delivered.String(), domain.PartialOf(err))
	assert.True(t, strings.HasPrefix("first second third fourth", domain.PartialOf(err)))
}

func TestStreamDeliversTokens(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gen.Tokens = []string{"Hello", ", ", "world"}

	var tokens []string
	ans, err := f.query.QueryStream(context.Background(), domain.QueryRequest{
		Query:  "greet me",
		UserID: "bob",
	}, func(tok string) { tokens = append(tokens, tok) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", ", "world"}, tokens)
	assert.Equal(t, "Hello, world", ans.Response)
	assert.Empty(t, ans.Sources)
}

func TestStreamCancelReturnsContextError(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gen.Tokens = []string{"a", "b", "c"}
	f.gen.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := f.query.QueryStream(ctx, domain.QueryRequest{Query: "q", UserID: "bob"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestScenarioProviderSwitch(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	_, err := f.ingest.IngestText(ctx, "carol", "spec.txt", domain.SourceFile, "checkout flow requirements")
	require.NoError(t, err)

	switched := embedding.NewMockEmbedder(128).WithName("cloud")
	ch, err := chunker.NewRecursiveChunker(800, 100)
	require.NoError(t, err)
	ingest := NewIngestUseCase(f.store, switched, ch, fs.NewPlainTextExtractor(), fs.NewWalker(nil, nil), logger)

	_, err = ingest.IngestText(ctx, "carol", "other.txt", domain.SourceFile, "payment flow requirements")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch), "got %v", err)

	docs, err := ingest.ListDocuments(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "spec.txt", docs[0].Source)

	statuses, err := ingest.Collections(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Active)
	assert.False(t, statuses[0].Compatible)

	router, err := prompt.NewRouter()
	require.NoError(t, err)
	gen := llm.NewMockGenerator("nothing known")
	query := NewQueryUseCase(f.cfg, retriever.NewSemanticRetriever(f.store, switched, logger),
		retriever.NewStage(nil, logger), router, llm.NewRegistryWith(config.ProviderOllama, gen, nil),
		analyzer.NewTokenizer(), logger)

	ans, err := query.Query(ctx, domain.QueryRequest{Query: "checkout", UserID: "carol"})
	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
	assert.Contains(t, gen.Requests()[0].User, "no matching documents")

	require.NoError(t, ingest.Reset(ctx, "carol"))
	summary, err := ingest.IngestText(ctx, "carol", "spec.txt", domain.SourceFile, "checkout flow requirements")
	require.NoError(t, err)
	assert.Equal(t, switched.ProviderID(), summary.ProviderID)
}

func TestIngestPathSkipsAndReports(t *testing.T) {
	f := newFixture(t, nil, nil)
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	write("guide.md", "# Guide\n\nInstall the agent, then run it.")
	write("notes.txt", "Meeting notes about the release.")
	write("report.pdf", "%PDF-1.4 binary")
	write("empty.txt", "   \n")

	var seen []string
	report, err := f.ingest.IngestPath(context.Background(), "dave", dir, func(path string, _ error) {
		seen = append(seen, filepath.Base(path))
	})
	require.NoError(t, err)

	assert.Len(t, seen, 4)
	assert.Len(t, report.Documents, 2)
	require.Len(t, report.Skipped, 2)

	kinds := map[string]domain.Kind{}
	for _, s := range report.Skipped {
		kinds[filepath.Base(s.Path)] = s.Kind
	}
	assert.Equal(t, domain.KindUnsupportedDocument, kinds["report.pdf"])
	assert.Equal(t, domain.KindValidation, kinds["empty.txt"])

	var merr *multierror.Error
	require.True(t, errors.As(report.Err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, 2, report.Chunks)
}

func TestReingestOverwrites(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.ingest.IngestText(ctx, "erin", "faq.txt", domain.SourceFile, strings.Repeat("old text ", 200))
	require.NoError(t, err)
	summary, err := f.ingest.IngestText(ctx, "erin", "faq.txt", domain.SourceFile, "new short text")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Chunks)

	docs, err := f.ingest.ListDocuments(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Chunks)
}

func TestIngestInvalidatesCache(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Retrieve.FallbackQuery = "" }, nil)
	ctx := context.Background()

	results, err := f.query.Search(ctx, "frank", "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.ingest.IngestText(ctx, "frank", "alpha.txt", domain.SourceFile, "alpha release checklist")
	require.NoError(t, err)

	results, err = f.query.Search(ctx, "frank", "alpha", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	n, err := f.ingest.DeleteDocument(ctx, "frank", "alpha.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err = f.query.Search(ctx, "frank", "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUserIsolation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.ingest.IngestText(ctx, "gina", "private.txt", domain.SourceFile, "gina's secret roadmap")
	require.NoError(t, err)

	results, err := f.query.Search(ctx, "hank", "roadmap", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRerankFailureFallsBack(t *testing.T) {
	f := newFixture(t, nil, failingReranker{})
	ctx := context.Background()

	_, err := f.ingest.IngestText(ctx, "ivy", "a.txt", domain.SourceFile, "database backup procedure")
	require.NoError(t, err)

	ans, err := f.query.Query(ctx, domain.QueryRequest{Query: "backup", UserID: "ivy", UseReranking: true})
	require.NoError(t, err)
	assert.Len(t, ans.Sources, 1)
	assert.Equal(t, 1, f.observer.fallbacks)
}

type scriptedRetriever struct {
	queries []string
}

func (r *scriptedRetriever) Retrieve(_ context.Context, _ string, query string, _ int) ([]domain.ScoredChunk, error) {
	r.queries = append(r.queries, query)
	if query != "about" {
		return nil, nil
	}
	return []domain.ScoredChunk{{
		Chunk: domain.Chunk{ID: "c1", DocID: "d1", Text: "About this product.", Metadata: map[string]string{domain.MetaURL: "https://example.com/about"}},
		Score: 0.4,
	}}, nil
}

func TestFallbackQuery(t *testing.T) {
	cfg := config.DefaultConfig()
	logger := zaptest.NewLogger(t)
	router, err := prompt.NewRouter()
	require.NoError(t, err)
	ret := &scriptedRetriever{}
	q := NewQueryUseCase(cfg, ret, retriever.NewStage(nil, logger), router,
		llm.NewRegistryWith(cfg.Provider, llm.NewMockGenerator("ok"), nil), analyzer.NewTokenizer(), logger)

	pc, chunks, err := q.Prompt(context.Background(), domain.QueryRequest{Query: "pricing", UserID: "jo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "about"}, ret.queries)
	require.Len(t, chunks, 1)
	assert.Contains(t, pc.Context, "[1] https://example.com/about")
	assert.Equal(t, domain.QueryQA, pc.Type)
}

func TestContextBudget(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Generation.MaxContextTokens = 5 }, nil)
	ctx := context.Background()

	_, err := f.ingest.IngestText(ctx, "kim", "one.txt", domain.SourceFile, "invoice export to csv works")
	require.NoError(t, err)
	_, err = f.ingest.IngestText(ctx, "kim", "two.txt", domain.SourceFile, "invoice import from csv fails")
	require.NoError(t, err)

	_, chunks, err := f.query.Prompt(ctx, domain.QueryRequest{Query: "invoice csv", UserID: "kim"})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestEmptyAnswerIsReplaced(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.gen.Tokens = nil

	ans, err := f.query.Query(context.Background(), domain.QueryRequest{Query: "hello", UserID: "lee"})
	require.NoError(t, err)
	assert.Equal(t, NoResponseMessage, ans.Response)
}

func TestQueryValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	hot := 3.5

	tests := []struct {
		name string
		req  domain.QueryRequest
	}{
		{"blank query", domain.QueryRequest{Query: "  ", UserID: "u"}},
		{"missing user", domain.QueryRequest{Query: "q"}},
		{"control chars in user", domain.QueryRequest{Query: "q", UserID: "u\n1"}},
		{"negative top k", domain.QueryRequest{Query: "q", UserID: "u", TopK: -1}},
		{"temperature out of range", domain.QueryRequest{Query: "q", UserID: "u", Temperature: &hot}},
		{"unknown type", domain.QueryRequest{Query: "q", UserID: "u", Type: domain.NumQueryTypes}},
		{"unknown mode", domain.QueryRequest{Query: "q", UserID: "u", Mode: "hybrid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.query.Query(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Empty(t, f.gen.Requests())
}

func TestMissingBackendIsUnavailable(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.query.Query(context.Background(), domain.QueryRequest{Query: "q", UserID: "u", Mode: domain.ModeOnline})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}

func TestTimeoutFor(t *testing.T) {
	f := newFixture(t, nil, nil)
	gen := f.cfg.Generation

	assert.Equal(t, gen.LongTimeout.Std(), f.query.timeoutFor(domain.QueryRequest{Type: domain.QueryValidate}))
	assert.Equal(t, gen.CodegenTimeout.Std(), f.query.timeoutFor(domain.QueryRequest{Type: domain.QueryAutomation}))
	assert.Equal(t, gen.Timeout.Std(), f.query.timeoutFor(domain.QueryRequest{Type: domain.QueryRisk}))
	assert.Equal(t, 3*time.Second, f.query.timeoutFor(domain.QueryRequest{Type: domain.QueryValidate, Timeout: 3 * time.Second}))
}

func TestResolveTopK(t *testing.T) {
	f := newFixture(t, nil, nil)

	k, err := f.query.resolveTopK("query", 0)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Retrieve.TopK, k)

	k, err = f.query.resolveTopK("query", 1000)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Retrieve.MaxTopK, k)
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("alice", "notes.txt")
	assert.Len(t, a, 16)
	assert.Equal(t, a, DocumentID("alice", "notes.txt"))
	assert.NotEqual(t, a, DocumentID("bob", "notes.txt"))
}

func TestSourcesCopyMetadata(t *testing.T) {
	meta := map[string]string{domain.MetaFileName: "a.txt"}
	sources := Sources([]domain.ScoredChunk{{Chunk: domain.Chunk{DocID: "d", Text: "t", Metadata: meta}}})
	require.Len(t, sources, 1)
	sources[0].Metadata["extra"] = "x"
	assert.NotContains(t, meta, "extra")
	assert.Equal(t, "d", sources[0].Metadata[domain.MetaDocumentID])
}
