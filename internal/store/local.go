package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"labvalidate/internal/embedding"
	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/types"
)

// SQLiteStore is a RetrievalStore persisted in a SQLite database. Search is
// a full scan ranked in process, identical to MemoryStore for the same
// content.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	engine embedding.EmbeddingEngine
	opts   options
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, engine embedding.EmbeddingEngine, opts ...Option) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: path, engine: engine, opts: buildOptions(opts)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("SQLite retrieval store opened at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			logging.StoreWarn("%s failed: %v", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		embedding TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert embeds content and stores it in a single row insert.
func (s *SQLiteStore) Insert(ctx context.Context, content string, metadata map[string]string) bool {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.Insert")
	defer timer.Stop()

	vec, err := s.engine.Embed(ctx, content)
	if err != nil || len(vec) == 0 {
		logging.StoreWarn("insert skipped, embedding failed: %v", err)
		observability.RecordEmbeddingFailure(ctx, s.opts.metrics, "insert")
		return false
	}

	embeddingJSON, err := json.Marshal(vec)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to serialize embedding: %v", err)
		return false
	}
	metaJSON, err := json.Marshal(copyMetadata(metadata))
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to serialize metadata: %v", err)
		return false
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, content, embedding, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
		id, content, string(embeddingJSON), string(metaJSON), s.opts.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to store document: %v", err)
		return false
	}

	logging.StoreDebug("stored document %s (%d chars)", id, len(content))
	return true
}

// Search ranks all stored documents against query.
func (s *SQLiteStore) Search(ctx context.Context, query string, k int) []Match {
	if k <= 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.Search")
	defer timer.Stop()

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		logging.StoreWarn("query embedding failed, lexical only: %v", err)
		observability.RecordEmbeddingFailure(ctx, s.opts.metrics, "search")
		queryVec = nil
	}

	docs, err := s.loadDocuments(ctx)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to load documents: %v", err)
		return nil
	}

	res := rank(docs, queryVec, query, k)
	if res.lexical > 0 {
		observability.RecordLexicalFallback(ctx, s.opts.metrics, "sqlite")
	}
	logging.StoreDebug("search %q k=%d -> %d matches (%d lexical, %d skipped)",
		query, k, len(res.matches), res.lexical, res.skipped)
	return res.matches
}

func (s *SQLiteStore) loadDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, embedding, metadata, created_at FROM documents ORDER BY seq",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var doc types.Document
		var embeddingJSON, metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&doc.ID, &doc.Content, &embeddingJSON, &metaJSON, &createdAt); err != nil {
			continue
		}
		if embeddingJSON.Valid {
			vec, err := parseVector(embeddingJSON.String)
			if err != nil {
				logging.StoreWarn("document %s has an unreadable embedding: %v", doc.ID, err)
			}
			doc.Embedding = vec
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &doc.Metadata)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			doc.CreatedAt = t
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Len returns the number of stored documents.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		logging.StoreWarn("count failed: %v", err)
		return 0
	}
	return n
}

// Stats reports store statistics.
func (s *SQLiteStore) Stats() Stats {
	st := Stats{Backend: "sqlite", EmbeddingEngine: s.engine.Name()}
	_ = s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&st.TotalDocuments)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM documents WHERE embedding IS NOT NULL AND embedding != ''").Scan(&st.WithEmbeddings)
	st.WithoutEmbeddings = st.TotalDocuments - st.WithEmbeddings
	return st
}

// Reembed regenerates embeddings for every document with the current engine.
// Needed after switching embedding models, since vectors of another
// dimensionality are skipped by search. Documents that fail to embed keep
// their old vector. Returns the number of documents updated.
func (s *SQLiteStore) Reembed(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.Reembed")
	defer timer.StopWithThreshold(time.Minute)

	docs, err := s.loadDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load documents: %w", err)
	}

	updated := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		vec, err := s.engine.Embed(ctx, doc.Content)
		if err != nil || len(vec) == 0 {
			logging.StoreWarn("reembed %s failed: %v", doc.ID, err)
			continue
		}
		data, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE documents SET embedding = ? WHERE id = ?", string(data), doc.ID); err != nil {
			return updated, fmt.Errorf("failed to update %s: %w", doc.ID, err)
		}
		updated++
	}

	logging.Store("re-embedded %d/%d documents with %s", updated, len(docs), s.engine.Name())
	return updated, nil
}
