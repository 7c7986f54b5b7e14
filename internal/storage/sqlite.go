package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Workspace operations

func (s *SQLiteStorage) createWorkspaceWithQuerier(ctx context.Context, q querier, ws *Workspace) error {
	query := `
		INSERT INTO workspaces (root_path, name, index_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query, ws.RootPath, ws.Name, ws.IndexVersion, now, now)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ws.ID = id
	ws.CreatedAt = now
	ws.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	return s.createWorkspaceWithQuerier(ctx, s.querier(), ws)
}

func (s *SQLiteStorage) getWorkspaceWithQuerier(ctx context.Context, q querier, rootPath string) (*Workspace, error) {
	query := `
		SELECT id, root_path, name, total_documents, total_chunks,
		       index_version, last_indexed_at, created_at, updated_at
		FROM workspaces
		WHERE root_path = ?
	`
	var ws Workspace
	var lastIndexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, rootPath).Scan(
		&ws.ID, &ws.RootPath, &ws.Name, &ws.TotalDocuments, &ws.TotalChunks,
		&ws.IndexVersion, &lastIndexedAt, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		ws.LastIndexedAt = lastIndexedAt.Time
	}
	return &ws, nil
}

func (s *SQLiteStorage) GetWorkspace(ctx context.Context, rootPath string) (*Workspace, error) {
	return s.getWorkspaceWithQuerier(ctx, s.querier(), rootPath)
}

func (s *SQLiteStorage) updateWorkspaceWithQuerier(ctx context.Context, q querier, ws *Workspace) error {
	query := `
		UPDATE workspaces
		SET name = ?, total_documents = ?, total_chunks = ?, last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		ws.Name, ws.TotalDocuments, ws.TotalChunks, ws.LastIndexedAt, now, ws.ID)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	ws.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateWorkspace(ctx context.Context, ws *Workspace) error {
	return s.updateWorkspaceWithQuerier(ctx, s.querier(), ws)
}

// Document operations

func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO documents (workspace_id, path, language, content_hash, mod_time, size_bytes, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		doc.WorkspaceID, doc.Path, doc.Language, doc.ContentHash[:],
		doc.ModTime, doc.SizeBytes, now, now, now).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	doc.LastIndexedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return s.upsertDocumentWithQuerier(ctx, s.querier(), doc)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var hash []byte
	err := row.Scan(
		&doc.ID, &doc.WorkspaceID, &doc.Path, &doc.Language,
		&hash, &doc.ModTime, &doc.SizeBytes,
		&doc.LastIndexedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(doc.ContentHash[:], hash)
	return &doc, nil
}

const documentColumns = `id, workspace_id, path, language, content_hash, mod_time,
	       size_bytes, last_indexed_at, created_at, updated_at`

func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, workspaceID int64, path string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE workspace_id = ? AND path = ?`
	return scanDocument(q.QueryRowContext(ctx, query, workspaceID, path))
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, workspaceID int64, path string) (*Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), workspaceID, path)
}

func (s *SQLiteStorage) getDocumentByIDWithQuerier(ctx context.Context, q querier, docID int64) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	return scanDocument(q.QueryRowContext(ctx, query, docID))
}

func (s *SQLiteStorage) GetDocumentByID(ctx context.Context, docID int64) (*Document, error) {
	return s.getDocumentByIDWithQuerier(ctx, s.querier(), docID)
}

func (s *SQLiteStorage) deleteDocumentWithQuerier(ctx context.Context, q querier, docID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	return err
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, docID int64) error {
	return s.deleteDocumentWithQuerier(ctx, s.querier(), docID)
}

func (s *SQLiteStorage) listDocumentsWithQuerier(ctx context.Context, q querier, workspaceID int64) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE workspace_id = ? ORDER BY path`
	rows, err := q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*Document, 0)
	for rows.Next() {
		var doc Document
		var hash []byte
		err := rows.Scan(
			&doc.ID, &doc.WorkspaceID, &doc.Path, &doc.Language,
			&hash, &doc.ModTime, &doc.SizeBytes,
			&doc.LastIndexedAt, &doc.CreatedAt, &doc.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		copy(doc.ContentHash[:], hash)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context, workspaceID int64) ([]*Document, error) {
	return s.listDocumentsWithQuerier(ctx, s.querier(), workspaceID)
}

// Chunk operations

func (s *SQLiteStorage) upsertChunkWithQuerier(ctx context.Context, q querier, chunk *Chunk) error {
	query := `
		INSERT INTO chunks (document_id, content, content_hash, start_line, end_line, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, start_line, end_line)
		DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		chunk.DocumentID, chunk.Content, chunk.ContentHash[:],
		chunk.StartLine, chunk.EndLine, now, now,
	).Scan(&chunk.ID, &chunk.CreatedAt, &chunk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *Chunk) error {
	return s.upsertChunkWithQuerier(ctx, s.querier(), chunk)
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	query := `
		SELECT id, document_id, content, content_hash, start_line, end_line, created_at, updated_at
		FROM chunks
		WHERE id = ?
	`
	var chunk Chunk
	var hash []byte
	err := s.db.QueryRowContext(ctx, query, chunkID).Scan(
		&chunk.ID, &chunk.DocumentID, &chunk.Content, &hash,
		&chunk.StartLine, &chunk.EndLine, &chunk.CreatedAt, &chunk.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(chunk.ContentHash[:], hash)
	return &chunk, nil
}

func (s *SQLiteStorage) deleteChunksByDocumentWithQuerier(ctx context.Context, q querier, docID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

func (s *SQLiteStorage) DeleteChunksByDocument(ctx context.Context, docID int64) error {
	return s.deleteChunksByDocumentWithQuerier(ctx, s.querier(), docID)
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, emb *Embedding) error {
	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		emb.ChunkID, emb.Vector, emb.Dimension, emb.Provider, emb.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	if emb.ID == 0 {
		id, err := result.LastInsertId()
		if err == nil {
			emb.ID = id
		}
	}

	emb.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, emb *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), emb)
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error) {
	query := `
		SELECT id, chunk_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE chunk_id = ?
	`
	var emb Embedding
	err := s.db.QueryRowContext(ctx, query, chunkID).Scan(
		&emb.ID, &emb.ChunkID, &emb.Vector,
		&emb.Dimension, &emb.Provider, &emb.Model, &emb.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// Search operations

func (s *SQLiteStorage) SearchText(ctx context.Context, workspaceID int64, query string, limit int) ([]TextResult, error) {
	return searchText(ctx, s.db, workspaceID, query, limit)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, workspaceID int64, vector []float32, limit int) ([]VectorResult, error) {
	return searchVector(ctx, s.db, workspaceID, vector, limit)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context, workspaceID int64) (*WorkspaceStatus, error) {
	ws, err := s.getWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	status := &WorkspaceStatus{
		Workspace:     ws,
		LastIndexedAt: ws.LastIndexedAt,
	}

	var docCount int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE workspace_id = ?", workspaceID).Scan(&docCount)
	if err != nil {
		return nil, err
	}
	status.DocumentsCount = docCount

	var chunkCount int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE d.workspace_id = ?
	`, workspaceID).Scan(&chunkCount)
	if err != nil {
		return nil, err
	}
	status.ChunksCount = chunkCount

	var embeddingCount int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings e
		JOIN chunks c ON e.chunk_id = c.id
		JOIN documents d ON c.document_id = d.id
		WHERE d.workspace_id = ?
	`, workspaceID).Scan(&embeddingCount)
	if err != nil {
		return nil, err
	}
	status.EmbeddingsCount = embeddingCount

	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

func (s *SQLiteStorage) getWorkspaceByID(ctx context.Context, workspaceID int64) (*Workspace, error) {
	query := `
		SELECT id, root_path, name, total_documents, total_chunks,
		       index_version, last_indexed_at, created_at, updated_at
		FROM workspaces
		WHERE id = ?
	`
	var ws Workspace
	var lastIndexedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, workspaceID).Scan(
		&ws.ID, &ws.RootPath, &ws.Name, &ws.TotalDocuments, &ws.TotalChunks,
		&ws.IndexVersion, &lastIndexedAt, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		ws.LastIndexedAt = lastIndexedAt.Time
	}
	return &ws, nil
}

// Transaction implementations

func (t *sqliteTx) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	return t.storage.createWorkspaceWithQuerier(ctx, t.querier(), ws)
}

func (t *sqliteTx) GetWorkspace(ctx context.Context, rootPath string) (*Workspace, error) {
	return t.storage.getWorkspaceWithQuerier(ctx, t.querier(), rootPath)
}

func (t *sqliteTx) UpdateWorkspace(ctx context.Context, ws *Workspace) error {
	return t.storage.updateWorkspaceWithQuerier(ctx, t.querier(), ws)
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return t.storage.upsertDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, workspaceID int64, path string) (*Document, error) {
	return t.storage.getDocumentWithQuerier(ctx, t.querier(), workspaceID, path)
}

func (t *sqliteTx) GetDocumentByID(ctx context.Context, docID int64) (*Document, error) {
	return t.storage.getDocumentByIDWithQuerier(ctx, t.querier(), docID)
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, docID int64) error {
	return t.storage.deleteDocumentWithQuerier(ctx, t.querier(), docID)
}

func (t *sqliteTx) ListDocuments(ctx context.Context, workspaceID int64) ([]*Document, error) {
	return t.storage.listDocumentsWithQuerier(ctx, t.querier(), workspaceID)
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *Chunk) error {
	return t.storage.upsertChunkWithQuerier(ctx, t.querier(), chunk)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	return t.storage.GetChunk(ctx, chunkID)
}

func (t *sqliteTx) DeleteChunksByDocument(ctx context.Context, docID int64) error {
	return t.storage.deleteChunksByDocumentWithQuerier(ctx, t.querier(), docID)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, emb *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), emb)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error) {
	return t.storage.GetEmbedding(ctx, chunkID)
}

func (t *sqliteTx) SearchText(ctx context.Context, workspaceID int64, query string, limit int) ([]TextResult, error) {
	return t.storage.SearchText(ctx, workspaceID, query, limit)
}

func (t *sqliteTx) SearchVector(ctx context.Context, workspaceID int64, vector []float32, limit int) ([]VectorResult, error) {
	return t.storage.SearchVector(ctx, workspaceID, vector, limit)
}

func (t *sqliteTx) GetStatus(ctx context.Context, workspaceID int64) (*WorkspaceStatus, error) {
	return t.storage.GetStatus(ctx, workspaceID)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
