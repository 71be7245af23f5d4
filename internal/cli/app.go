package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/analyzer"
	"nexqa/internal/adapter/cache"
	"nexqa/internal/adapter/chunker"
	"nexqa/internal/adapter/embedding"
	"nexqa/internal/adapter/fs"
	"nexqa/internal/adapter/llm"
	"nexqa/internal/adapter/memstore"
	"nexqa/internal/adapter/metrics"
	"nexqa/internal/adapter/prompt"
	"nexqa/internal/adapter/retriever"
	"nexqa/internal/adapter/store"
	"nexqa/internal/port"
	"nexqa/internal/usecase"
)

// App is the wired pipeline shared by the commands.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    port.CollectionStore
	Migrator store.Migrator // nil for the memory driver
	Embedder port.Embedder
	Walker   *fs.Walker
	Metrics  *metrics.Recorder
	Ingest   *usecase.IngestUseCase
	Query    *usecase.QueryUseCase
	// Migration is the result of the schema check done at open.
	Migration *store.MigrationResult
}

// OpenStore opens the collection store selected by cfg.Store.Driver.
func OpenStore(cfg *config.Config, logger *zap.Logger) (port.CollectionStore, store.Migrator, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memstore.NewMemoryStore(), nil, nil
	case config.DriverBolt, config.DriverSQLite:
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	if err := cfg.EnsureStoreDir(); err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if cfg.Store.Driver == config.DriverSQLite {
		st, err := store.NewSQLiteStore(cfg.DBFile(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, st, nil
	}
	st, err := store.NewBoltStore(cfg.DBFile(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, st, nil
}

// NewApp wires the store, embedder, retriever, reranker, prompt router and
// generation backends from cfg.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	st, migrator, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Store: st, Migrator: migrator}
	if err := app.checkSchema(); err != nil {
		st.Close()
		return nil, err
	}

	emb, err := embedding.New(cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	ch, err := chunker.NewRecursiveChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		st.Close()
		return nil, err
	}
	router, err := prompt.NewRouter()
	if err != nil {
		st.Close()
		return nil, err
	}

	app.Embedder = emb
	app.Walker = fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	app.Metrics = metrics.NewRecorder()

	cached := cache.NewCachedRetriever(
		retriever.NewSemanticRetriever(st, emb, logger),
		cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL.Std()),
		emb.ProviderID(),
	)
	app.Ingest = usecase.NewIngestUseCase(st, emb, ch, fs.NewPlainTextExtractor(), app.Walker, logger,
		usecase.WithInvalidator(cached),
		usecase.WithIngestObserver(app.Metrics))
	app.Query = usecase.NewQueryUseCase(cfg, cached,
		retriever.NewStage(retriever.NewReranker(cfg.Reranker), logger),
		router,
		llm.NewRegistry(cfg, logger),
		analyzer.NewTokenCounter(cfg.Generation.Encoding, logger),
		logger,
		usecase.WithQueryObserver(app.Metrics))

	return app, nil
}

// checkSchema stamps fresh stores and warns when stored collections were
// built with a different embedding setup. Nothing is cleared here: writes
// into a collection of another dimension fail with a dimension mismatch
// until the user resets.
func (a *App) checkSchema() error {
	if a.Migrator == nil {
		return nil
	}
	res, err := store.CheckMigration(a.Migrator, a.Config)
	if err != nil {
		return err
	}
	a.Migration = res

	switch {
	case res.NeedsRebuild:
		a.Logger.Warn("stored collections do not match the active configuration",
			zap.String("reason", res.Reason),
			zap.String("hint", "run 'nexqa docs reset --all' to rebuild"))
	case res.NeedsMigration:
		a.Logger.Debug("migrating store schema", zap.String("reason", res.Reason))
		if err := store.Migrate(a.Migrator, a.Config); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Rebuild clears every collection of every user and stamps the active
// configuration.
func (a *App) Rebuild() error {
	if a.Migrator == nil {
		return errors.New("the memory driver keeps nothing to rebuild")
	}
	return store.Rebuild(a.Migrator, a.Config)
}

func (a *App) Close() error {
	return a.Store.Close()
}

// openApp builds the App for the current command.
func openApp() (*App, error) {
	return NewApp(GetConfig(), GetLogger())
}
