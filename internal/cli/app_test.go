package cli

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nexqa/config"
	"nexqa/internal/domain"
)

const testDim = 32

// embedText hashes words into a small bag-of-words vector.
func embedText(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%testDim]++
	}
	return v
}

func newOllamaStub(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			vecs := make([][]float32, len(req.Input))
			for i, in := range req.Input {
				vecs[i] = embedText(in)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vecs})
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   "gemma3:1b",
				"message": map[string]string{"role": "assistant", "content": answer},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, driver, url string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Provider = config.ProviderOllama
	cfg.Ollama.BaseURL = url
	cfg.Ollama.EmbeddingModel = "nomic-embed-text:latest"
	cfg.Ollama.LLMModel = "gemma3:1b"
	cfg.Ollama.Dimension = testDim
	cfg.Reranker.URL = ""
	cfg.Store.Driver = driver
	cfg.Store.Path = t.TempDir()
	return cfg
}

func TestNewApp_EndToEnd(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverBolt, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			srv := newOllamaStub(t, "Logins are limited to five attempts per minute.")
			app, err := NewApp(testConfig(t, driver, srv.URL), zaptest.NewLogger(t))
			require.NoError(t, err)
			defer app.Close()

			ctx := context.Background()
			_, err = app.Ingest.IngestText(ctx, "alice", "auth.md", domain.SourceFile,
				"Login attempts are rate limited to five per minute per account.")
			require.NoError(t, err)

			ans, err := app.Query.Query(ctx, domain.QueryRequest{
				Query:  "how are login attempts limited?",
				Type:   domain.QueryQA,
				UserID: "alice",
			})
			require.NoError(t, err)
			assert.Equal(t, "Logins are limited to five attempts per minute.", ans.Response)
			assert.Equal(t, "qa", ans.Type)
			require.Len(t, ans.Sources, 1)
			assert.Contains(t, ans.Sources[0].Content, "rate limited")

			other, err := app.Query.Search(ctx, "bob", "login", 5)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestNewApp_UnsupportedDriver(t *testing.T) {
	cfg := testConfig(t, "chroma", "http://127.0.0.1:1")
	_, err := NewApp(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNewApp_SchemaCheck(t *testing.T) {
	srv := newOllamaStub(t, "ok")
	cfg := testConfig(t, config.DriverBolt, srv.URL)
	logger := zaptest.NewLogger(t)

	app, err := NewApp(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, app.Migration)
	assert.True(t, app.Migration.NeedsMigration)
	require.NoError(t, app.Close())

	app, err = NewApp(cfg, logger)
	require.NoError(t, err)
	assert.False(t, app.Migration.NeedsMigration)
	assert.False(t, app.Migration.NeedsRebuild)
	require.NoError(t, app.Close())

	changed := *cfg
	changed.Chunking.Size = cfg.Chunking.Size / 2
	app, err = NewApp(&changed, logger)
	require.NoError(t, err)
	assert.True(t, app.Migration.NeedsRebuild)

	require.NoError(t, app.Rebuild())
	require.NoError(t, app.Close())

	app, err = NewApp(&changed, logger)
	require.NoError(t, err)
	defer app.Close()
	assert.False(t, app.Migration.NeedsRebuild)
}

func TestApp_RebuildMemory(t *testing.T) {
	app, err := NewApp(testConfig(t, config.DriverMemory, "http://127.0.0.1:1"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Migrator)
	assert.Error(t, app.Rebuild())
}

func TestBuildQueryRequest(t *testing.T) {
	cfg = config.DefaultConfig()
	t.Cleanup(func() { cfg = nil })

	queryType = "risk"
	queryTopK = 7
	queryNoRerank = true
	queryMode = "OFFLINE"
	t.Cleanup(func() {
		queryType, queryTopK, queryNoRerank, queryMode = "qa", 0, false, ""
	})

	req, err := buildQueryRequest(queryCmd, "payments")
	require.NoError(t, err)
	assert.Equal(t, domain.QueryRisk, req.Type)
	assert.Equal(t, 7, req.TopK)
	assert.False(t, req.UseReranking)
	assert.Equal(t, domain.ModeOffline, req.Mode)
	assert.Nil(t, req.Temperature)

	queryType = "poem"
	_, err = buildQueryRequest(queryCmd, "payments")
	assert.Error(t, err)
}

func TestValidateQueryFlags(t *testing.T) {
	t.Cleanup(func() { queryStream, queryJSON = false, false })

	queryStream, queryJSON = true, false
	assert.NoError(t, validateQueryFlags())

	queryStream, queryJSON = false, true
	assert.NoError(t, validateQueryFlags())

	queryStream, queryJSON = true, true
	err := validateQueryFlags()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--stream and --json")
}

func TestRunQueryRejectsStreamWithJSON(t *testing.T) {
	t.Cleanup(func() { queryStream, queryJSON = false, false })
	queryStream, queryJSON = true, true

	err := runQuery(queryCmd, []string{"how are sessions invalidated?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*1e6))
	assert.Equal(t, "42s", formatDuration(42*1e9))
	assert.Equal(t, "2m5s", formatDuration(125*1e9))
}
