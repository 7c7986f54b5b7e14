package storage

import (
	"context"
	"time"
)

// Storage defines the interface for persisting and querying the local
// context index
type Storage interface {
	// Workspace operations
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, rootPath string) (*Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *Workspace) error

	// Document operations
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, workspaceID int64, path string) (*Document, error)
	GetDocumentByID(ctx context.Context, docID int64) (*Document, error)
	DeleteDocument(ctx context.Context, docID int64) error
	ListDocuments(ctx context.Context, workspaceID int64) ([]*Document, error)

	// Chunk operations
	UpsertChunk(ctx context.Context, chunk *Chunk) error
	GetChunk(ctx context.Context, chunkID int64) (*Chunk, error)
	DeleteChunksByDocument(ctx context.Context, docID int64) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, emb *Embedding) error
	GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error)

	// Search operations
	SearchText(ctx context.Context, workspaceID int64, query string, limit int) ([]TextResult, error)
	SearchVector(ctx context.Context, workspaceID int64, vector []float32, limit int) ([]VectorResult, error)

	// Status operations
	GetStatus(ctx context.Context, workspaceID int64) (*WorkspaceStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Workspace represents an indexed workspace root
type Workspace struct {
	ID             int64
	RootPath       string
	Name           string
	TotalDocuments int
	TotalChunks    int
	IndexVersion   string
	LastIndexedAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Document represents a tracked file in a workspace
type Document struct {
	ID            int64
	WorkspaceID   int64
	Path          string // Relative to workspace root, forward slashes
	Language      string
	ContentHash   [32]byte
	ModTime       time.Time
	SizeBytes     int64
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk represents a line-window section of a document
type Chunk struct {
	ID          int64
	DocumentID  int64
	Content     string
	ContentHash [32]byte
	StartLine   int
	EndLine     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Embedding represents a vector embedding for a chunk
type Embedding struct {
	ID        int64
	ChunkID   int64
	Vector    []byte // Serialized float32 array, little-endian
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID   int64
	BM25Score float64
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ChunkID         int64
	SimilarityScore float64
}

// WorkspaceStatus contains statistics about an indexed workspace
type WorkspaceStatus struct {
	Workspace       *Workspace
	DocumentsCount  int
	ChunksCount     int
	EmbeddingsCount int
	IndexSizeMB     float64
	LastIndexedAt   time.Time
}
