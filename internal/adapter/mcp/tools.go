package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"nexqa/internal/domain"
	"nexqa/internal/usecase"
)

// IngestPathInput is the input schema for the ingest_document_path tool.
type IngestPathInput struct {
	Path   string `json:"path" jsonschema:"file or directory to ingest"`
	UserID string `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// IngestPathOutput is the output schema for the ingest_document_path tool.
type IngestPathOutput struct {
	Documents []domain.DocumentSummary `json:"documents"`
	Chunks    int                      `json:"chunks"`
	Skipped   []SkippedOutput          `json:"skipped,omitempty"`
}

// SkippedOutput is a file the batch could not ingest.
type SkippedOutput struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// IngestTextInput is the input schema for the ingest_text tool.
type IngestTextInput struct {
	Text   string `json:"text" jsonschema:"extracted document text"`
	Source string `json:"source" jsonschema:"file name or URL the text came from"`
	Kind   string `json:"kind,omitempty" jsonschema:"file or url (default file)"`
	UserID string `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query  string `json:"query" jsonschema:"text to search for"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"maximum number of results (default 5)"`
	UserID string `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// QueryInput is the input schema for the rag_query tool.
type QueryInput struct {
	Query        string   `json:"query" jsonschema:"the question"`
	QueryType    string   `json:"query_type,omitempty" jsonschema:"qa, summary, test_case, testcase_excel, test_strategy, risk, validate or automation (default qa)"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"candidates to retrieve (default 5)"`
	UseReranking *bool    `json:"use_reranking,omitempty" jsonschema:"rerank candidates with the cross-encoder (default true)"`
	Temperature  *float64 `json:"temperature,omitempty" jsonschema:"sampling temperature between 0 and 2"`
	Mode         string   `json:"mode,omitempty" jsonschema:"offline or online generation backend"`
	UserID       string   `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// UserInput is the input schema for the list_sources tool.
type UserInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// ListOutput is the output schema for the list_sources tool.
type ListOutput struct {
	Documents []domain.DocumentSummary `json:"documents"`
	Count     int                      `json:"count"`
}

// DeleteInput is the input schema for the delete_source tool.
type DeleteInput struct {
	Document string `json:"document" jsonschema:"document id or source name"`
	UserID   string `json:"user_id,omitempty" jsonschema:"collection owner (default mcp_user)"`
}

// DeleteOutput is the output schema for the delete_source tool.
type DeleteOutput struct {
	Removed int `json:"removed_chunks"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_document_path",
		Description: "Ingest a text document, or every supported document under a directory, into the knowledge base",
	}, s.handleIngestPath)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_text",
		Description: "Ingest already extracted text, for example the content of a web page",
	}, s.handleIngestText)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Return the stored chunks most similar to a query, without generating an answer",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rag_query",
		Description: "Answer a question, or generate test cases, strategies, risks or scripts, from the ingested documents",
	}, s.handleQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List the ingested documents",
	}, s.handleList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_source",
		Description: "Remove a document and its chunks from the knowledge base",
	}, s.handleDelete)
}

func (s *Server) handleIngestPath(ctx context.Context, _ *mcp.CallToolRequest, input IngestPathInput) (*mcp.CallToolResult, IngestPathOutput, error) {
	report, err := s.ingest.IngestPath(ctx, s.user(input.UserID), input.Path, nil)
	if err != nil {
		return nil, IngestPathOutput{}, toolError(err)
	}

	if len(report.Skipped) > 0 {
		s.logger.Warn("ingest skipped documents",
			zap.String("path", input.Path),
			zap.Int("skipped", len(report.Skipped)),
			zap.Error(report.Err))
	}

	out := IngestPathOutput{Documents: report.Documents, Chunks: report.Chunks}
	for _, sk := range report.Skipped {
		out.Skipped = append(out.Skipped, SkippedOutput{Path: sk.Path, Kind: string(sk.Kind), Error: sk.Err.Error()})
	}
	if out.Documents == nil {
		out.Documents = []domain.DocumentSummary{}
	}
	return nil, out, nil
}

func (s *Server) handleIngestText(ctx context.Context, _ *mcp.CallToolRequest, input IngestTextInput) (*mcp.CallToolResult, domain.DocumentSummary, error) {
	kind := domain.SourceKind(input.Kind)
	if kind == "" {
		kind = domain.SourceFile
	}
	summary, err := s.ingest.IngestText(ctx, s.user(input.UserID), input.Source, kind, input.Text)
	if err != nil {
		return nil, domain.DocumentSummary{}, toolError(err)
	}
	return nil, summary, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.query.Search(ctx, s.user(input.UserID), input.Query, input.TopK)
	if err != nil {
		return nil, SearchOutput{}, toolError(err)
	}

	sources := usecase.Sources(results)
	output := SearchOutput{
		Results: make([]SearchResultOutput, len(results)),
		Count:   len(results),
	}
	for i := range results {
		output.Results[i] = SearchResultOutput{
			Content:  sources[i].Content,
			Metadata: sources[i].Metadata,
			Score:    results[i].Score,
		}
	}
	return nil, output, nil
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, domain.Answer, error) {
	qt := domain.QueryQA
	if input.QueryType != "" {
		var err error
		if qt, err = domain.ParseQueryType(input.QueryType); err != nil {
			return nil, domain.Answer{}, toolError(err)
		}
	}
	rerank := s.rerank
	if input.UseReranking != nil {
		rerank = *input.UseReranking
	}

	ans, err := s.query.Query(ctx, domain.QueryRequest{
		Query:        input.Query,
		Type:         qt,
		TopK:         input.TopK,
		UseReranking: rerank,
		Temperature:  input.Temperature,
		Mode:         domain.Mode(input.Mode),
		UserID:       s.user(input.UserID),
	})
	if err != nil {
		return nil, domain.Answer{}, toolError(err)
	}
	return nil, ans, nil
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, input UserInput) (*mcp.CallToolResult, ListOutput, error) {
	docs, err := s.ingest.ListDocuments(ctx, s.user(input.UserID))
	if err != nil {
		return nil, ListOutput{}, toolError(err)
	}
	if docs == nil {
		docs = []domain.DocumentSummary{}
	}
	return nil, ListOutput{Documents: docs, Count: len(docs)}, nil
}

func (s *Server) handleDelete(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, DeleteOutput, error) {
	n, err := s.ingest.DeleteDocument(ctx, s.user(input.UserID), input.Document)
	if err != nil {
		return nil, DeleteOutput{}, toolError(err)
	}
	if n == 0 {
		return nil, DeleteOutput{}, domain.Errorf(domain.KindValidation, "delete source", "document %q not found", input.Document)
	}
	return nil, DeleteOutput{Removed: n}, nil
}

// toolError makes sure the message the client sees names a stable kind.
func toolError(err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		return fmt.Errorf("%s: %w", domain.KindInternal, err)
	}
	if de.Partial != "" {
		return fmt.Errorf("%w (partial output: %q)", err, de.Partial)
	}
	return err
}
