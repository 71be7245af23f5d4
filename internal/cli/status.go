package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the store, provider and collection status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("Provider:    %s\n", cfg.Provider)
	fmt.Printf("Embedder:    %s (%d dims)\n", app.Embedder.ProviderID(), app.Embedder.Dimension())
	fmt.Printf("Store:       %s", cfg.Store.Driver)
	if app.Migrator != nil {
		fmt.Printf(" at %s", cfg.DBFile())
	}
	fmt.Println()

	if app.Migrator != nil {
		info, err := app.Migrator.GetSchemaInfo()
		if err != nil {
			return fmt.Errorf("failed to read schema info: %w", err)
		}
		if info != nil {
			fmt.Printf("Schema:      v%d (config %s)\n", info.Version, info.ConfigHash)
		}
		if m := app.Migration; m != nil && m.NeedsRebuild {
			fmt.Printf("Warning:     %s; run 'nexqa docs reset --all'\n", m.Reason)
		}
	}

	colls, err := app.Ingest.Collections(cmd.Context(), userID)
	if err != nil {
		return err
	}
	fmt.Printf("\nCollections of %s:\n", userID)
	if len(colls) == 0 {
		fmt.Println("  (none)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROVIDER\tDIMS\tDOCS\tCHUNKS\tSTATE")
	for _, c := range colls {
		state := "inactive"
		switch {
		case c.Active && c.Compatible:
			state = "active"
		case !c.Compatible:
			state = "incompatible"
		}
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%s\n", c.Key.ProviderID, c.Dimension, c.Documents, c.Chunks, state)
	}
	return w.Flush()
}
