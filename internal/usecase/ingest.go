package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"nexqa/internal/adapter/logging"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// Invalidator drops cached retrieval results of a user after a write.
type Invalidator interface {
	Invalidate(userID string)
}

// IngestUseCase turns documents into chunk vectors in the user's collection.
type IngestUseCase struct {
	store       port.CollectionStore
	embedder    port.Embedder
	chunker     port.Chunker
	extractor   port.TextExtractor
	walker      port.FileWalker
	invalidator Invalidator
	observer    Observer
	logger      *zap.Logger
	now         func() time.Time
}

// IngestOption customizes an IngestUseCase.
type IngestOption func(*IngestUseCase)

// WithInvalidator registers a cache to invalidate after every write.
func WithInvalidator(inv Invalidator) IngestOption {
	return func(u *IngestUseCase) { u.invalidator = inv }
}

// WithIngestObserver reports ingestion counts to o.
func WithIngestObserver(o Observer) IngestOption {
	return func(u *IngestUseCase) { u.observer = o }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) IngestOption {
	return func(u *IngestUseCase) { u.now = now }
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(
	store port.CollectionStore,
	embedder port.Embedder,
	chunker port.Chunker,
	extractor port.TextExtractor,
	walker port.FileWalker,
	logger *zap.Logger,
	opts ...IngestOption,
) *IngestUseCase {
	u := &IngestUseCase{
		store:     store,
		embedder:  embedder,
		chunker:   chunker,
		extractor: extractor,
		walker:    walker,
		observer:  NopObserver{},
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// SkippedFile is a batch entry that was not ingested.
type SkippedFile struct {
	Path string
	Kind domain.Kind
	Err  error
}

// IngestReport contains the results of a batch ingestion.
type IngestReport struct {
	Documents []domain.DocumentSummary
	Skipped   []SkippedFile
	Chunks    int
	// Err aggregates the causes of every skipped file.
	Err error
}

// DocumentID derives the stable id of a source. Re-ingesting the same source
// for the same user yields the same id and replaces the previous version.
func DocumentID(userID, source string) string {
	h := sha256.Sum256([]byte(userID + "\x00" + source))
	return hex.EncodeToString(h[:8])
}

// ValidateUserID rejects empty ids and ids carrying control characters.
func ValidateUserID(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.Errorf(domain.KindValidation, op, "user id is required")
	}
	if strings.ContainsFunc(userID, unicode.IsControl) {
		return domain.Errorf(domain.KindValidation, op, "user id contains control characters")
	}
	return nil
}

// CollectionKey is the collection this use case writes for userID.
func (u *IngestUseCase) CollectionKey(userID string) domain.CollectionKey {
	return domain.CollectionKey{UserID: userID, ProviderID: u.embedder.ProviderID()}
}

// IngestText chunks, embeds and stores already extracted text.
func (u *IngestUseCase) IngestText(ctx context.Context, userID, source string, kind domain.SourceKind, text string) (domain.DocumentSummary, error) {
	const op = "ingest"
	if err := ValidateUserID(op, userID); err != nil {
		return domain.DocumentSummary{}, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return domain.DocumentSummary{}, domain.Errorf(domain.KindValidation, op, "source is required")
	}
	switch kind {
	case domain.SourceFile, domain.SourceURL:
	default:
		return domain.DocumentSummary{}, domain.Errorf(domain.KindValidation, op, "unknown source kind %q", kind)
	}
	if strings.TrimSpace(text) == "" {
		return domain.DocumentSummary{}, domain.Errorf(domain.KindValidation, op, "%s contains no text", source)
	}

	doc := domain.Document{
		ID:         DocumentID(userID, source),
		UserID:     userID,
		Source:     source,
		Kind:       kind,
		Text:       text,
		IngestedAt: u.now().UTC(),
	}

	chunks, err := u.chunker.Chunk(doc)
	if err != nil {
		return domain.DocumentSummary{}, domain.Wrap(domain.KindInternal, op, fmt.Errorf("chunk %s: %w", source, err))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return domain.DocumentSummary{}, domain.Wrap(domain.KindProviderUnavailable, op, err)
	}
	if len(vectors) != len(chunks) {
		return domain.DocumentSummary{}, domain.Errorf(domain.KindProviderUnavailable, op, "got %d embeddings for %d chunks", len(vectors), len(chunks))
	}

	records := make([]port.VectorRecord, len(chunks))
	for i := range chunks {
		records[i] = port.VectorRecord{Chunk: chunks[i], Vector: vectors[i]}
	}

	key := u.CollectionKey(userID)
	if err := u.store.Upsert(ctx, key, doc, records); err != nil {
		return domain.DocumentSummary{}, domain.Wrap(domain.KindInternal, op, err)
	}
	u.invalidate(userID)
	u.observer.ChunksIngested(key.ProviderID, len(chunks))

	u.logger.Info("document ingested",
		zap.String("user_id", userID),
		zap.String("source", source),
		zap.String("document_id", doc.ID),
		zap.String("provider", key.ProviderID),
		zap.Int("chunks", len(chunks)))

	return domain.DocumentSummary{
		ID:         doc.ID,
		UserID:     userID,
		Source:     source,
		Kind:       kind,
		ProviderID: key.ProviderID,
		Chunks:     len(chunks),
		IngestedAt: doc.IngestedAt,
	}, nil
}

// IngestFile extracts a file and ingests its text.
func (u *IngestUseCase) IngestFile(ctx context.Context, userID, path string) (domain.DocumentSummary, error) {
	if !u.extractor.Supports(path) {
		return domain.DocumentSummary{}, domain.Errorf(domain.KindUnsupportedDocument, "ingest file",
			"%s: extension %q is not supported", filepath.Base(path), filepath.Ext(path))
	}
	text, err := u.extractor.Extract(path)
	if err != nil {
		return domain.DocumentSummary{}, domain.Wrap(domain.KindUnsupportedDocument, "ingest file", err)
	}
	return u.IngestText(ctx, userID, filepath.Clean(path), domain.SourceFile, text)
}

// IngestPath ingests every matching file under root, or root itself when it
// is a file. Failing files are skipped and reported; a dimension mismatch or
// a cancelled context stops the batch since every later file would fail too.
// progress, when set, is called once per file.
func (u *IngestUseCase) IngestPath(ctx context.Context, userID, root string, progress func(path string, err error)) (*IngestReport, error) {
	if err := ValidateUserID("ingest path", userID); err != nil {
		return nil, err
	}
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return u.IngestBatch(ctx, userID, paths, progress)
}

// IngestBatch ingests the given files one by one.
func (u *IngestUseCase) IngestBatch(ctx context.Context, userID string, paths []string, progress func(path string, err error)) (*IngestReport, error) {
	report := &IngestReport{}
	var errs *multierror.Error

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			report.Err = errs.ErrorOrNil()
			return report, err
		}

		summary, err := u.IngestFile(ctx, userID, path)
		if progress != nil {
			progress(path, err)
		}
		if err != nil {
			if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
				report.Err = errs.ErrorOrNil()
				return report, err
			}
			u.logger.Warn("skipping document",
				zap.String("user_id", userID),
				zap.String("path", path),
				zap.String("kind", string(domain.KindOf(err))),
				zap.Error(err))
			report.Skipped = append(report.Skipped, SkippedFile{Path: path, Kind: domain.KindOf(err), Err: err})
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		report.Documents = append(report.Documents, summary)
		report.Chunks += summary.Chunks
	}

	report.Err = errs.ErrorOrNil()
	return report, nil
}

// ListDocuments returns the user's documents across all providers.
func (u *IngestUseCase) ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error) {
	if err := ValidateUserID("list documents", userID); err != nil {
		return nil, err
	}
	return u.store.ListDocuments(ctx, userID)
}

// DeleteDocument removes a document by id, or by source when ref is not a
// known id. It returns the number of chunks removed.
func (u *IngestUseCase) DeleteDocument(ctx context.Context, userID, ref string) (int, error) {
	const op = "delete document"
	if err := ValidateUserID(op, userID); err != nil {
		return 0, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, domain.Errorf(domain.KindValidation, op, "document id or source is required")
	}

	n, err := u.store.DeleteDocument(ctx, userID, ref)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		n, err = u.store.DeleteDocument(ctx, userID, DocumentID(userID, ref))
		if err != nil {
			return 0, err
		}
	}
	if n > 0 {
		u.invalidate(userID)
		u.logger.Info("document deleted", zap.String("user_id", userID), zap.String("document", ref), zap.Int("chunks", n))
	}
	return n, nil
}

// Reset drops every collection of the user, which is how a user recovers
// from a provider switch.
func (u *IngestUseCase) Reset(ctx context.Context, userID string) error {
	if err := ValidateUserID("reset", userID); err != nil {
		return err
	}
	if err := u.store.Reset(ctx, userID); err != nil {
		return err
	}
	u.invalidate(userID)
	u.logger.Info("collections reset", zap.String("user_id", userID))
	return nil
}

// CollectionStatus describes one collection relative to the active embedder.
type CollectionStatus struct {
	domain.CollectionInfo
	Active     bool
	Compatible bool
}

// Collections lists the user's collections and flags the ones the active
// embedder can read.
func (u *IngestUseCase) Collections(ctx context.Context, userID string) ([]CollectionStatus, error) {
	if err := ValidateUserID("collections", userID); err != nil {
		return nil, err
	}
	infos, err := u.store.Collections(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionStatus, len(infos))
	for i, info := range infos {
		out[i] = CollectionStatus{
			CollectionInfo: info,
			Active:         info.Key.ProviderID == u.embedder.ProviderID(),
			Compatible:     info.Dimension == u.embedder.Dimension(),
		}
	}
	return out, nil
}

func (u *IngestUseCase) invalidate(userID string) {
	if u.invalidator != nil {
		u.invalidator.Invalidate(userID)
	}
}
