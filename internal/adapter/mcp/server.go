// Package mcp exposes ingestion, search and question answering as MCP tools.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"nexqa/internal/adapter/logging"
	"nexqa/internal/domain"
	"nexqa/internal/usecase"
)

// Version is the MCP server version.
const Version = "0.1.0"

// DefaultUserID scopes tool calls that name no user.
const DefaultUserID = "mcp_user"

// ErrMissingService is returned when a required use case is not provided.
var ErrMissingService = errors.New("mcp: ingest and query services are required")

// Ingester is the ingestion side used by the tools.
type Ingester interface {
	IngestText(ctx context.Context, userID, source string, kind domain.SourceKind, text string) (domain.DocumentSummary, error)
	IngestPath(ctx context.Context, userID, root string, progress func(path string, err error)) (*usecase.IngestReport, error)
	ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error)
	DeleteDocument(ctx context.Context, userID, ref string) (int, error)
}

// Querier is the retrieval side used by the tools.
type Querier interface {
	Query(ctx context.Context, req domain.QueryRequest) (domain.Answer, error)
	Search(ctx context.Context, userID, query string, topK int) ([]domain.ScoredChunk, error)
}

// Server is the MCP server for nexqa.
type Server struct {
	ingest      Ingester
	query       Querier
	defaultUser string
	rerank      bool
	server      *mcp.Server
	logger      *zap.Logger
}

// NewServer registers the tools. defaultUser falls back to DefaultUserID;
// rerank is the default of the rag_query use_reranking flag.
func NewServer(ingest Ingester, query Querier, defaultUser string, rerank bool, logger *zap.Logger) (*Server, error) {
	if ingest == nil || query == nil {
		return nil, ErrMissingService
	}
	if strings.TrimSpace(defaultUser) == "" {
		defaultUser = DefaultUserID
	}

	s := &Server{
		ingest:      ingest,
		query:       query,
		defaultUser: defaultUser,
		rerank:      rerank,
		server:      mcp.NewServer(&mcp.Implementation{Name: "nexqa", Version: Version}, nil),
		logger:      logging.OrNop(logger),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves over HTTP on addr until ctx is cancelled. Extra handlers,
// such as /metrics, are mounted next to the MCP endpoint.
func (s *Server) RunHTTP(ctx context.Context, addr string, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	mux.Handle("/", s.Handler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	s.logger.Info("mcp server listening", zap.String("addr", addr))
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) user(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.defaultUser
}
