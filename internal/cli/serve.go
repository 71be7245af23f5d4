package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nexqa/internal/adapter/mcp"
)

var serveHTTP string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose ingestion and querying as MCP tools",
	Long: `Start a Model Context Protocol server exposing the ingest_document_path,
ingest_text, search, rag_query, list_sources and delete_source tools.

The server speaks over stdio by default. With --http it serves the
streamable HTTP transport on /mcp and, when metrics are enabled, Prometheus
metrics on /metrics.

Examples:
  nexqa serve                  # stdio, for MCP clients that spawn the process
  nexqa serve --http :8765     # streamable HTTP`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "serve over HTTP on this address instead of stdio")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	defaultUser := cfg.MCP.DefaultUserID
	if cmd.Flags().Changed("user") {
		defaultUser = userID
	}

	srv, err := mcp.NewServer(app.Ingest, app.Query, defaultUser, cfg.Retrieve.UseReranking, app.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := serveHTTP
	if addr == "" {
		addr = cfg.MCP.Addr
	}
	if addr == "" {
		app.Logger.Info("serving MCP over stdio", zap.String("user_id", defaultUser))
		return srv.Run(ctx)
	}

	extra := map[string]http.Handler{}
	if cfg.Metrics.Enabled {
		extra["/metrics"] = app.Metrics.Handler()
	}
	fmt.Fprintf(os.Stderr, "Serving MCP on http://%s/mcp\n", addr)
	return srv.RunHTTP(ctx, addr, extra)
}
