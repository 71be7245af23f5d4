package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nexqa/internal/usecase"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the chunks most similar to a query",
	Long: `Run retrieval only and print the matching chunks with their scores.

Examples:
  nexqa search "token refresh"
  nexqa search -k 10 --json "audit log retention"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of chunks (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	results, err := app.Query.Search(cmd.Context(), userID, strings.Join(args, " "), searchTopK)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usecase.Sources(results))
	}

	if len(results) == 0 {
		fmt.Println("No matches. Ingest documents first with 'nexqa ingest'.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("[%d] %.3f  %s\n", i+1, r.Score, usecase.SourceName(r.Chunk))
		fmt.Printf("    %s\n", preview(r.Chunk.Text, 160))
	}
	return nil
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
