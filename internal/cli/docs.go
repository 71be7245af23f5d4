package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	docsJSON     bool
	docsResetAll bool
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage ingested documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id-or-source>...",
	Short: "Delete documents by id or source",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocsDelete,
}

var docsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every collection of the user",
	Long: `Drop every collection of the user. This is how collections built with a
previous embedding provider are cleared.

With --all the whole store is cleared for every user and stamped with the
active configuration.`,
	Args: cobra.NoArgs,
	RunE: runDocsReset,
}

func init() {
	docsListCmd.Flags().BoolVar(&docsJSON, "json", false, "print documents as JSON")
	docsResetCmd.Flags().BoolVar(&docsResetAll, "all", false, "clear the store for every user")
	docsCmd.AddCommand(docsListCmd, docsDeleteCmd, docsResetCmd)
	rootCmd.AddCommand(docsCmd)
}

func runDocsList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	docs, err := app.Ingest.ListDocuments(cmd.Context(), userID)
	if err != nil {
		return err
	}

	if docsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tKIND\tPROVIDER\tCHUNKS\tINGESTED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.Source, d.Kind, d.ProviderID, d.Chunks, d.IngestedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	missing := 0
	for _, ref := range args {
		n, err := app.Ingest.DeleteDocument(cmd.Context(), userID, ref)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("Not found: %s\n", ref)
			missing++
			continue
		}
		fmt.Printf("Deleted %s (%d chunks)\n", ref, n)
	}
	if missing > 0 {
		return fmt.Errorf("%d document(s) not found", missing)
	}
	return nil
}

func runDocsReset(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if docsResetAll {
		if err := app.Rebuild(); err != nil {
			return fmt.Errorf("failed to rebuild store: %w", err)
		}
		fmt.Println("Store cleared for all users.")
		return nil
	}

	if err := app.Ingest.Reset(cmd.Context(), userID); err != nil {
		return err
	}
	fmt.Printf("Collections of %s cleared.\n", userID)
	return nil
}
