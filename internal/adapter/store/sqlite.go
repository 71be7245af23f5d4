package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/store/migrations"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.CollectionStore = (*SQLiteStore)(nil)

// SQLiteStore keeps collections in a single SQLite database in WAL mode.
// Writers are serialized in-process; readers run concurrently and see the
// last committed state.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	write  sync.Mutex
}

func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logging.OrNop(logger)}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *SQLiteStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("file", name))
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, key domain.CollectionKey, doc domain.Document, records []port.VectorRecord) error {
	dim, err := RecordDimension("upsert", records)
	if err != nil {
		return err
	}

	s.write.Lock()
	defer s.write.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT provider_id, dimension FROM collections WHERE user_id = ?", key.UserID)
	if err != nil {
		return fmt.Errorf("reading collections: %w", err)
	}
	exists := false
	for rows.Next() {
		var provider string
		var have int
		if err := rows.Scan(&provider, &have); err != nil {
			rows.Close()
			return err
		}
		if have != dim {
			rows.Close()
			return MismatchError("upsert", provider, have, dim)
		}
		if provider == key.ProviderID {
			exists = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if !exists {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO collections (user_id, provider_id, dimension, created_at) VALUES (?, ?, ?, ?)",
			key.UserID, key.ProviderID, dim, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}

	if _, err := deleteDocumentTx(ctx, tx, key, doc.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (user_id, provider_id, doc_id, source, kind, ingested_at) VALUES (?, ?, ?, ?, ?, ?)",
		key.UserID, key.ProviderID, doc.ID, doc.Source, string(doc.Kind), doc.IngestedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (user_id, provider_id, doc_id, chunk_id, chunk_index, text,
			start_offset, end_offset, overlap, metadata, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		metaJSON, err := json.Marshal(r.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			key.UserID, key.ProviderID, doc.ID, r.Chunk.ID, r.Chunk.Seq, r.Chunk.Text,
			r.Chunk.Start, r.Chunk.End, r.Chunk.Overlap, string(metaJSON), encodeFloats(r.Vector))
		if err != nil {
			return fmt.Errorf("saving chunk %s: %w", r.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Debug("upserted document",
		zap.String("collection", key.String()),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(records)))
	return nil
}

func deleteDocumentTx(ctx context.Context, tx *sql.Tx, key domain.CollectionKey, docID string) (int, error) {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE user_id = ? AND provider_id = ? AND doc_id = ?",
		key.UserID, key.ProviderID, docID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	n, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM documents WHERE user_id = ? AND provider_id = ? AND doc_id = ?",
		key.UserID, key.ProviderID, docID)
	if err != nil {
		return 0, fmt.Errorf("deleting document: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Query(ctx context.Context, key domain.CollectionKey, vector []float32, topK int) ([]domain.ScoredChunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var dim int
	err = tx.QueryRowContext(ctx,
		"SELECT dimension FROM collections WHERE user_id = ? AND provider_id = ?",
		key.UserID, key.ProviderID).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError("query", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	if dim != len(vector) {
		return nil, MismatchError("query", key.ProviderID, dim, len(vector))
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT seq, vector FROM chunks WHERE user_id = ? AND provider_id = ?",
		key.UserID, key.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}

	var candidates []Candidate
	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			rows.Close()
			return nil, err
		}
		vec, err := decodeFloats(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt vector", zap.Int64("seq", seq), zap.Error(err))
			continue
		}
		candidates = append(candidates, Candidate{
			ID:    strconv.FormatInt(seq, 10),
			Seq:   uint64(seq),
			Score: CosineSimilarity(vector, vec),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := Rank(candidates, topK)
	results := make([]domain.ScoredChunk, 0, len(top))
	for _, cand := range top {
		var c domain.Chunk
		var metaJSON sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT chunk_id, doc_id, chunk_index, text, start_offset, end_offset, overlap, metadata
			FROM chunks WHERE seq = ?`, int64(cand.Seq)).
			Scan(&c.ID, &c.DocID, &c.Seq, &c.Text, &c.Start, &c.End, &c.Overlap, &metaJSON)
		if err != nil {
			return nil, fmt.Errorf("loading chunk: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling metadata: %w", err)
			}
		}
		results = append(results, domain.ScoredChunk{Chunk: c, Score: cand.Score, Seq: cand.Seq})
	}
	return results, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]domain.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc_id, d.provider_id, d.source, d.kind, d.ingested_at,
			(SELECT COUNT(*) FROM chunks c
			 WHERE c.user_id = d.user_id AND c.provider_id = d.provider_id AND c.doc_id = d.doc_id)
		FROM documents d WHERE d.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var summaries []domain.DocumentSummary
	for rows.Next() {
		var sum domain.DocumentSummary
		var kind string
		var ingested int64
		if err := rows.Scan(&sum.ID, &sum.ProviderID, &sum.Source, &kind, &ingested, &sum.Chunks); err != nil {
			return nil, err
		}
		sum.UserID = userID
		sum.Kind = domain.SourceKind(kind)
		sum.IngestedAt = time.Unix(ingested, 0)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortSummaries(summaries)
	return summaries, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, userID, docID string) (int, error) {
	s.write.Lock()
	defer s.write.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT provider_id FROM documents WHERE user_id = ? AND doc_id = ?", userID, docID)
	if err != nil {
		return 0, err
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		providers = append(providers, p)
	}
	rows.Close()

	removed := 0
	for _, p := range providers {
		n, err := deleteDocumentTx(ctx, tx, domain.CollectionKey{UserID: userID, ProviderID: p}, docID)
		if err != nil {
			return 0, err
		}
		removed += n
	}
	return removed, tx.Commit()
}

func (s *SQLiteStore) Collections(ctx context.Context, userID string) ([]domain.CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.provider_id, c.dimension, c.created_at,
			(SELECT COUNT(*) FROM documents d WHERE d.user_id = c.user_id AND d.provider_id = c.provider_id),
			(SELECT COUNT(*) FROM chunks k WHERE k.user_id = c.user_id AND k.provider_id = c.provider_id)
		FROM collections c WHERE c.user_id = ? ORDER BY c.provider_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var infos []domain.CollectionInfo
	for rows.Next() {
		var info domain.CollectionInfo
		var created int64
		if err := rows.Scan(&info.Key.ProviderID, &info.Dimension, &created, &info.Documents, &info.Chunks); err != nil {
			return nil, err
		}
		info.Key.UserID = userID
		info.CreatedAt = time.Unix(created, 0)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Reset(ctx context.Context, userID string) error {
	s.write.Lock()
	defer s.write.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "documents", "collections"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("resetting %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// GetSchemaInfo reads the schema version and configuration hash.
func (s *SQLiteStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	rows, err := s.db.Query("SELECT key, value FROM store_meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		switch k {
		case string(keySchemaVersion):
			info.Version, err = strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("corrupt schema version %q", v)
			}
		case string(keyConfigHash):
			info.ConfigHash = v
		}
	}
	return &info, rows.Err()
}

// SetSchemaInfo stores the schema version and configuration hash.
func (s *SQLiteStore) SetSchemaInfo(info *SchemaInfo) error {
	_, err := s.db.Exec(`
		INSERT INTO store_meta (key, value) VALUES (?, ?), (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(keySchemaVersion), strconv.Itoa(info.Version),
		string(keyConfigHash), info.ConfigHash)
	return err
}

// Clear drops every collection of every user.
func (s *SQLiteStore) Clear() error {
	s.write.Lock()
	defer s.write.Unlock()
	_, err := s.db.Exec("DELETE FROM chunks; DELETE FROM documents; DELETE FROM collections;")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
