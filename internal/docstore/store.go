// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package docstore persists document and chunk metadata in SQLite and keeps
// an FTS5 index over chunk content. The index serves two jobs: enriching
// remote search results with titles and paragraph locators, and answering
// queries locally when no hybrid search endpoint is configured.
//
// See docs/ARCHITECTURE.md § Document Store.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkoval/passage-engine/pkg/types"
)

// chunksPerPage is the approximation used for page estimates: three chunks
// of roughly a thousand characters per printed page.
const chunksPerPage = 3

// Store manages the passage metadata SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the document store at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating docstore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening docstore: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT,
			doc_type TEXT NOT NULL,
			author TEXT,
			tradition TEXT,
			filename TEXT,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			ingested_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL REFERENCES documents(id),
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			citation TEXT,
			paragraph INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_doc_index ON chunks(document_id, chunk_index)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='chunks_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE chunks_fts USING fts5(content, content=chunks, content_rowid=rowid)`,
			`CREATE TRIGGER chunks_ai AFTER INSERT ON chunks BEGIN
				INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER chunks_ad AFTER DELETE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			END`,
			`CREATE TRIGGER chunks_au AFTER UPDATE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
				INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// Register upserts a document record and replaces its chunks. Re-ingesting
// a document therefore never leaves stale chunks behind.
func (s *Store) Register(ctx context.Context, doc *types.Document, chunks []types.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, doc_type, author, tradition, filename, chunk_count, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, doc_type=excluded.doc_type, author=excluded.author,
			tradition=excluded.tradition, filename=excluded.filename,
			chunk_count=excluded.chunk_count, ingested_at=excluded.ingested_at`,
		doc.ID, doc.Title, string(doc.Type), doc.Source.Author,
		doc.Source.Tradition, doc.Source.Filename, len(chunks),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, content, citation, paragraph)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		paragraph := 0
		if chunk.Span != nil {
			paragraph = chunk.Span.Paragraph
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.Index, chunk.Content, chunk.Citation, paragraph,
		); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
	}

	return tx.Commit()
}

// DocumentRecord is the stored metadata for one document.
type DocumentRecord struct {
	ID         string             `json:"id" yaml:"id"`
	Title      string             `json:"title" yaml:"title"`
	Type       types.DocumentType `json:"type" yaml:"type"`
	Author     string             `json:"author,omitempty" yaml:"author,omitempty"`
	Tradition  string             `json:"tradition,omitempty" yaml:"tradition,omitempty"`
	Filename   string             `json:"filename,omitempty" yaml:"filename,omitempty"`
	ChunkCount int                `json:"chunk_count" yaml:"chunk_count"`
	IngestedAt string             `json:"ingested_at" yaml:"ingested_at"`
}

// Document returns the stored record for id, or sql.ErrNoRows wrapped in a
// descriptive error when no such document exists.
func (s *Store) Document(ctx context.Context, id string) (*DocumentRecord, error) {
	var rec DocumentRecord
	var docType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, doc_type, author, tradition, filename, chunk_count, ingested_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Title, &docType, &rec.Author, &rec.Tradition,
		&rec.Filename, &rec.ChunkCount, &rec.IngestedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("looking up document: %w", err)
	}
	rec.Type = types.DocumentType(docType)
	return &rec, nil
}

// ChunkLocation is the metadata the retriever uses to enrich a remote
// search result with human-readable provenance.
type ChunkLocation struct {
	Title     string
	Author    string
	Tradition string
	Citation  string
	Paragraph int
	Page      int
}

// Locate returns provenance for the chunk at (documentID, index). Page is
// estimated from the chunk index.
func (s *Store) Locate(ctx context.Context, documentID string, index int) (*ChunkLocation, error) {
	var loc ChunkLocation
	err := s.db.QueryRowContext(ctx,
		`SELECT d.title, d.author, d.tradition, c.citation, c.paragraph
		 FROM chunks c JOIN documents d ON c.document_id = d.id
		 WHERE c.document_id = ? AND c.chunk_index = ?`, documentID, index,
	).Scan(&loc.Title, &loc.Author, &loc.Tradition, &loc.Citation, &loc.Paragraph)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chunk %s[%d] not found: %w", documentID, index, err)
		}
		return nil, fmt.Errorf("looking up chunk: %w", err)
	}
	loc.Page = index/chunksPerPage + 1
	return &loc, nil
}

// Search runs an FTS5 full-text query over stored chunk content. It is the
// local fallback when no hybrid search endpoint is configured. The bm25
// rank (lower is better) is folded into a relevance score in (0, 1].
func (s *Store) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.document_id, c.chunk_index, c.content, c.citation, c.paragraph,
			d.title, chunks_fts.rank
		 FROM chunks_fts
		 JOIN chunks c ON c.rowid = chunks_fts.rowid
		 JOIN documents d ON c.document_id = d.id
		 WHERE chunks_fts MATCH ?
		 ORDER BY chunks_fts.rank
		 LIMIT ?`, ftsQuote(query), limit)
	if err != nil {
		return nil, fmt.Errorf("querying local index: %w", err)
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var (
			r    types.SearchResult
			rank float64
		)
		if err := rows.Scan(&r.DocumentID, &r.ChunkIndex, &r.Content,
			&r.Citation, &r.Paragraph, &r.Title, &rank); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.RawRelevance = 1.0 / (1.0 + math.Abs(rank))
		r.LLMRelevance = -1
		r.Page = r.ChunkIndex/chunksPerPage + 1
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuote wraps the query as a quoted FTS5 string so user punctuation is
// matched literally rather than parsed as query syntax.
func ftsQuote(query string) string {
	quoted := make([]byte, 0, len(query)+2)
	quoted = append(quoted, '"')
	for i := 0; i < len(query); i++ {
		if query[i] == '"' {
			quoted = append(quoted, '"')
		}
		quoted = append(quoted, query[i])
	}
	return string(append(quoted, '"'))
}

// Stats summarizes the store contents.
type Stats struct {
	Documents int `json:"documents" yaml:"documents"`
	Chunks    int `json:"chunks" yaml:"chunks"`

	// ByType counts documents per document type.
	ByType map[string]int `json:"by_type" yaml:"by_type"`
}

// Stats reports document and chunk counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return stats, fmt.Errorf("counting documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return stats, fmt.Errorf("counting chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT doc_type, count(*) FROM documents GROUP BY doc_type`)
	if err != nil {
		return stats, fmt.Errorf("counting by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docType string
		var n int
		if err := rows.Scan(&docType, &n); err != nil {
			return stats, fmt.Errorf("scanning row: %w", err)
		}
		stats.ByType[docType] = n
	}
	return stats, rows.Err()
}
