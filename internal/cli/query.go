package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nexqa/internal/domain"
)

var (
	queryType        string
	queryTopK        int
	queryNoRerank    bool
	queryTemperature float64
	queryStream      bool
	queryMode        string
	queryTimeout     time.Duration
	queryJSON        bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the ingested documents",
	Long: `Retrieve the most relevant chunks, build a prompt for the requested query
type and generate an answer with the local or cloud model.

Query types: qa, summary, test_case, testcase_excel, test_strategy, risk,
validate, automation.

Examples:
  nexqa query "what does the retry policy cover?"
  nexqa query --type risk "payment refunds"
  nexqa query --stream --mode offline "summarise the release notes"
  nexqa query --json "how are sessions invalidated?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryType, "type", "t", "qa", "query type")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "keep the retrieval order")
	queryCmd.Flags().Float64Var(&queryTemperature, "temperature", 0, "sampling temperature (default from config)")
	queryCmd.Flags().BoolVarP(&queryStream, "stream", "s", false, "print tokens as they are generated")
	queryCmd.Flags().StringVarP(&queryMode, "mode", "m", "", "generation backend: offline or online (default from provider)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "generation timeout (default depends on query type)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the answer as JSON (cannot be combined with --stream)")
	rootCmd.AddCommand(queryCmd)
}

// buildQueryRequest turns the query flags into a request.
func buildQueryRequest(cmd *cobra.Command, question string) (domain.QueryRequest, error) {
	qt, err := domain.ParseQueryType(queryType)
	if err != nil {
		return domain.QueryRequest{}, err
	}
	req := domain.QueryRequest{
		Query:        question,
		Type:         qt,
		TopK:         queryTopK,
		UseReranking: GetConfig().Retrieve.UseReranking && !queryNoRerank,
		Mode:         domain.Mode(strings.ToLower(queryMode)),
		UserID:       userID,
		Timeout:      queryTimeout,
	}
	if cmd.Flags().Changed("temperature") {
		t := queryTemperature
		req.Temperature = &t
	}
	return req, nil
}

// validateQueryFlags rejects flag combinations with no single output form.
func validateQueryFlags() error {
	if queryStream && queryJSON {
		return errors.New("--stream and --json cannot be combined: --json prints one complete answer")
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := validateQueryFlags(); err != nil {
		return err
	}
	req, err := buildQueryRequest(cmd, strings.Join(args, " "))
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ans domain.Answer
	if queryStream {
		req.Stream = true
		ans, err = app.Query.QueryStream(ctx, req, func(tok string) {
			fmt.Print(tok)
		})
		fmt.Println()
	} else {
		ans, err = app.Query.Query(ctx, req)
	}
	if err != nil {
		if p := domain.PartialOf(err); p != "" && !queryStream {
			fmt.Println(p)
		}
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}

	if !queryStream {
		fmt.Println(ans.Response)
	}
	printSources(ans.Sources)
	fmt.Printf("\n(%s, %s, %dms)\n", ans.Type, ans.Model, ans.LatencyMS)
	return nil
}

func printSources(sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Printf("\nSources:\n")
	for i, s := range sources {
		name := s.Metadata[domain.MetaFileName]
		if name == "" {
			name = s.Metadata[domain.MetaURL]
		}
		if name == "" {
			name = s.Metadata[domain.MetaDocumentID]
		}
		fmt.Printf("  [%d] %s\n", i+1, name)
	}
}
