package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"nexqa/config"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retriever"
	"nexqa/internal/cli"
	"nexqa/internal/domain"
	"nexqa/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding nexqa.yaml")
	user := flag.String("user", "default", "User whose collection is searched")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -user default -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (provider connection, collection store)")
		fmt.Println("  2. Semantic similarity (query vs results)")
		fmt.Println("  3. Re-ranking (order changes against the retrieval order)")
		os.Exit(1)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.LookupEnv)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx := context.Background()

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	colls, err := app.Ingest.Collections(ctx, *user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading collections: %v\n", err)
		os.Exit(1)
	}
	for _, c := range colls {
		if c.Active {
			fmt.Printf("Chunks indexed: %d in %d documents\n", c.Chunks, c.Documents)
		}
	}
	fmt.Printf("Embedder: %s\n", app.Embedder.ProviderID())
	fmt.Printf("Dimension: %d\n", app.Embedder.Dimension())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	start := time.Now()
	results, err := app.Query.Search(ctx, *user, *query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	searchTime := time.Since(start)

	if len(results) == 0 {
		fmt.Println("No results. Ingest documents first with 'nexqa ingest'.")
		os.Exit(1)
	}

	fmt.Printf("Top %d semantic matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		preview := strings.ReplaceAll(r.Chunk.Text, "\n", " ")
		if len([]rune(preview)) > 150 {
			preview = string([]rune(preview)[:150]) + "..."
		}

		similarity := r.Score
		totalScore += similarity

		fmt.Printf("%d. [%s %.3f] %s #%d\n", i+1, rating(similarity), similarity, usecase.SourceName(r.Chunk), r.Chunk.Seq)
		fmt.Printf("   %s\n\n", preview)
	}

	start = time.Now()
	stage := retriever.NewStage(retriever.NewReranker(cfg.Reranker), logger)
	reranked, ok := stage.Select(ctx, *query, results, cfg.Retrieve.ContextWindow, true)
	rerankTime := time.Since(start)

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)
	fmt.Printf("  Search time:        %s\n", searchTime.Round(time.Millisecond))
	if ok {
		fmt.Printf("  Re-rank time:       %s (%d of top %d moved)\n", rerankTime.Round(time.Millisecond), moved(results, reranked), len(reranked))
	} else {
		fmt.Printf("  Re-rank:            unavailable, retrieval order kept\n")
	}

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-ingestion")
	}
}

func rating(similarity float64) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

// moved counts the re-ranked positions holding a different chunk than the
// retrieval order.
func moved(before, after []domain.ScoredChunk) int {
	n := 0
	for i := range after {
		if i >= len(before) || before[i].Chunk.ID != after[i].Chunk.ID {
			n++
		}
	}
	return n
}
