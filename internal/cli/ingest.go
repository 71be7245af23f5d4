package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"nexqa/internal/domain"
)

var (
	ingestText   string
	ingestSource string
	ingestURL    bool
	ingestWatch  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Ingest documents into the user's collection",
	Long: `Chunk, embed and store documents for later retrieval. Directories are
walked using the configured include and exclude patterns. Re-ingesting a
source replaces its previous version.

Examples:
  nexqa ingest ./docs                              # Ingest a directory
  nexqa ingest spec.md notes.txt                   # Ingest single files
  nexqa ingest --text "..." --source release-notes # Ingest raw text
  nexqa ingest --watch ./docs                      # Keep the collection in sync`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "ingest this text instead of files ('-' reads stdin)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name for --text")
	ingestCmd.Flags().BoolVar(&ingestURL, "url", false, "mark the --source of --text as a URL")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "watch the given directories and re-ingest changed files")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestText == "" && len(args) == 0 {
		return errors.New("nothing to ingest: pass paths or --text")
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ingestText != "" {
		return ingestRawText(ctx, app)
	}

	var failed int
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("path does not exist: %w", err)
		}
		n, err := ingestTree(ctx, app, path)
		if err != nil {
			return err
		}
		failed += n
	}

	if ingestWatch {
		return watchPaths(ctx, app, args)
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) could not be ingested", failed)
	}
	return nil
}

func ingestRawText(ctx context.Context, app *App) error {
	if ingestSource == "" {
		return errors.New("--source is required with --text")
	}
	text := ingestText
	if text == "-" {
		data, err := readAllStdin()
		if err != nil {
			return err
		}
		text = data
	}
	kind := domain.SourceFile
	if ingestURL {
		kind = domain.SourceURL
	}

	summary, err := app.Ingest.IngestText(ctx, userID, ingestSource, kind, text)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %s (%s): %d chunks\n", summary.Source, summary.ID, summary.Chunks)
	return nil
}

// ingestTree ingests root and prints a summary. It returns the number of
// skipped files.
func ingestTree(ctx context.Context, app *App, root string) (int, error) {
	files, err := app.Walker.Walk(root)
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if len(files) == 0 {
		fmt.Printf("No matching files under %s\n", root)
		return 0, nil
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	fmt.Printf("Ingesting %d file(s) from %s...\n", len(paths), root)
	progress := newIngestProgress(len(paths))
	start := time.Now()

	report, err := app.Ingest.IngestBatch(ctx, userID, paths, progress)
	if err != nil {
		return 0, fmt.Errorf("ingestion stopped: %w", err)
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Documents:  %d\n", len(report.Documents))
	fmt.Printf("  Chunks:     %d\n", report.Chunks)
	fmt.Printf("  Skipped:    %d\n", len(report.Skipped))
	fmt.Printf("  Provider:   %s\n", app.Embedder.ProviderID())
	fmt.Printf("  Time:       %s\n", formatDuration(time.Since(start)))

	if len(report.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for _, s := range report.Skipped {
			fmt.Printf("  - [%s] %v\n", s.Kind, s.Err)
		}
	}
	return len(report.Skipped), nil
}

// newIngestProgress returns a progress callback drawing a bar on terminals
// and nothing otherwise.
func newIngestProgress(total int) func(string, error) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}

	start := time.Now()
	processed := 0
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	return func(path string, err error) {
		processed++
		_ = bar.Set(processed)

		elapsed := time.Since(start)
		rate := float64(processed) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-processed)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
		}
	}
}

// watchPaths re-ingests files under the given directories as they change and
// deletes documents whose files are removed.
func watchPaths(ctx context.Context, app *App, args []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	var roots []string
	for _, arg := range args {
		root, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := addWatchDirs(watcher, root); err != nil {
			return err
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return errors.New("--watch needs at least one directory")
	}

	fmt.Println("Watching for changes (Ctrl+C to stop)...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.Logger.Warn("watch error", zap.Error(err))
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			handleWatchEvent(ctx, app, watcher, roots, ev)
		}
	}
}

func handleWatchEvent(ctx context.Context, app *App, watcher *fsnotify.Watcher, roots []string, ev fsnotify.Event) {
	root := rootOf(roots, ev.Name)
	if root == "" {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addWatchDirs(watcher, ev.Name); err != nil {
				app.Logger.Warn("failed to watch directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}

	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || !app.Walker.Match(filepath.ToSlash(rel)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		n, err := app.Ingest.DeleteDocument(ctx, userID, filepath.Clean(ev.Name))
		if err != nil {
			app.Logger.Warn("failed to delete document", zap.String("path", ev.Name), zap.Error(err))
			return
		}
		if n > 0 {
			fmt.Printf("Removed %s\n", rel)
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		summary, err := app.Ingest.IngestFile(ctx, userID, ev.Name)
		if err != nil {
			app.Logger.Warn("failed to ingest document",
				zap.String("path", ev.Name),
				zap.String("kind", string(domain.KindOf(err))),
				zap.Error(err))
			return
		}
		fmt.Printf("Ingested %s: %d chunks\n", rel, summary.Chunks)
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func rootOf(roots []string, path string) string {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

func readAllStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
