package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nexqa/internal/usecase"
)

var promptCmd = &cobra.Command{
	Use:   "prompt <question>",
	Short: "Print the prompt a query would send, without generating",
	Long: `Run retrieval, re-ranking and prompt routing for a question and print the
system and user prompts. Accepts the same flags as query.

Examples:
  nexqa prompt --type test_case "password reset"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVarP(&queryType, "type", "t", "qa", "query type")
	promptCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	promptCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "keep the retrieval order")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	req, err := buildQueryRequest(cmd, strings.Join(args, " "))
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	pc, chunks, err := app.Query.Prompt(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("=== system (%s) ===\n%s\n\n", pc.Type, pc.System)
	fmt.Printf("=== user ===\n%s\n\n", pc.User)
	fmt.Printf("=== sources ===\n")
	for i, c := range chunks {
		fmt.Printf("  [%d] %.3f  %s\n", i+1, c.Score, usecase.SourceName(c.Chunk))
	}
	return nil
}
