package indexer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rjmcleod/ctxfuse/internal/chunker"
	"github.com/rjmcleod/ctxfuse/internal/embedder"
	"github.com/rjmcleod/ctxfuse/internal/ignore"
	"github.com/rjmcleod/ctxfuse/internal/storage"
	"go.uber.org/zap"
)

// MaxFileSizeBytes skips files larger than this; huge files are almost never
// useful retrieval context
const MaxFileSizeBytes = 1 << 20

// Indexer walks a workspace and keeps the local index current:
// discover -> chunk -> store, with optional embedding generation.
type Indexer struct {
	storage  storage.Storage
	chunker  *chunker.Chunker
	matcher  *ignore.Matcher
	embedder embedder.Embedder // nil disables embedding generation
	logger   *zap.Logger

	workers int
	lock    IndexLock
}

// Config contains configuration for one indexing run
type Config struct {
	Workers        int  // Concurrent workers (default: runtime.NumCPU())
	BatchSize      int  // Files committed per transaction (default: 20)
	Hard           bool // Drop existing documents and rebuild from scratch
	SkipEmbeddings bool // Index text only, even when an embedder is set
}

// Statistics summarizes an indexing run
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksCreated int
	Duration      time.Duration
	ErrorMessages []string
}

// ErrIndexInProgress is returned when a run is already active for this indexer
var ErrIndexInProgress = fmt.Errorf("indexing already in progress")

// New creates an Indexer. matcher and emb may be nil to disable ignore
// filtering and embedding generation respectively.
func New(store storage.Storage, matcher *ignore.Matcher, emb embedder.Embedder, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		storage:  store,
		chunker:  chunker.New(),
		matcher:  matcher,
		embedder: emb,
		logger:   logger,
		workers:  runtime.NumCPU(),
	}
}

// IndexWorkspace indexes every text file under rootPath. Unchanged files
// (by content hash) are skipped unless config.Hard is set. Only one run may
// be active at a time.
func (idx *Indexer) IndexWorkspace(ctx context.Context, rootPath string, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{}
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	idx.workers = config.Workers

	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	ws, err := idx.getOrCreateWorkspace(ctx, rootPath)
	if err != nil {
		return nil, fmt.Errorf("get or create workspace: %w", err)
	}

	if config.Hard {
		if err := idx.dropDocuments(ctx, ws); err != nil {
			return nil, fmt.Errorf("hard reindex: %w", err)
		}
	}

	files, err := idx.discoverFiles(rootPath)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	idx.logger.Info("indexing workspace",
		zap.String("root", rootPath),
		zap.Int("files", len(files)),
		zap.Bool("embeddings", idx.embedder != nil && !config.SkipEmbeddings))

	if err := idx.indexFiles(ctx, ws, rootPath, files, config, stats); err != nil {
		return nil, fmt.Errorf("index files: %w", err)
	}

	if err := idx.pruneDeleted(ctx, ws, rootPath, files); err != nil {
		return nil, fmt.Errorf("prune deleted: %w", err)
	}

	if err := idx.updateWorkspaceStats(ctx, ws); err != nil {
		return nil, fmt.Errorf("update workspace stats: %w", err)
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("indexing complete",
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("failed", stats.FilesFailed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// IndexFile re-indexes a single file, used by the change watcher
func (idx *Indexer) IndexFile(ctx context.Context, rootPath, filePath string) error {
	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return err
	}
	ws, err := idx.getOrCreateWorkspace(ctx, rootPath)
	if err != nil {
		return err
	}

	stats := &Statistics{}
	if err := idx.indexOne(ctx, idx.storage, ws, rootPath, filePath, nil, stats); err != nil {
		return err
	}
	return idx.updateWorkspaceStats(ctx, ws)
}

// RemoveFile drops a file from the index, used by the change watcher
func (idx *Indexer) RemoveFile(ctx context.Context, rootPath, filePath string) error {
	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return err
	}
	ws, err := idx.storage.GetWorkspace(ctx, rootPath)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	relPath, err := relSlash(rootPath, filePath)
	if err != nil {
		return err
	}
	doc, err := idx.storage.GetDocument(ctx, ws.ID, relPath)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	if err := idx.storage.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	return idx.updateWorkspaceStats(ctx, ws)
}

func (idx *Indexer) getOrCreateWorkspace(ctx context.Context, rootPath string) (*storage.Workspace, error) {
	ws, err := idx.storage.GetWorkspace(ctx, rootPath)
	if err == nil {
		return ws, nil
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	ws = &storage.Workspace{
		RootPath:     rootPath,
		Name:         filepath.Base(rootPath),
		IndexVersion: storage.CurrentSchemaVersion,
	}
	if err := idx.storage.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (idx *Indexer) dropDocuments(ctx context.Context, ws *storage.Workspace) error {
	docs, err := idx.storage.ListDocuments(ctx, ws.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := idx.storage.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

// discoverFiles finds indexable files under rootPath, honoring ignore rules
func (idx *Indexer) discoverFiles(rootPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if path != rootPath && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if info.Size() == 0 || info.Size() > MaxFileSizeBytes {
			return nil
		}
		if idx.matcher != nil && idx.matcher.IsIgnored(ignore.PathToURI(path)) {
			return nil
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// indexFiles processes files in transaction-sized batches with a bounded
// worker pool
func (idx *Indexer) indexFiles(ctx context.Context, ws *storage.Workspace, rootPath string, files []string, config *Config, stats *Statistics) error {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	var (
		indexed int32
		skipped int32
		failed  int32
		chunks  int32
	)

	semaphore := make(chan struct{}, idx.workers)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i := 0; i < len(files); i += batchSize {
		end := i + batchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[i:end]

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			return idx.indexBatch(gctx, ws, rootPath, batch, config, &indexed, &skipped, &failed, &chunks, &mu, stats)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats.FilesIndexed = int(indexed)
	stats.FilesSkipped = int(skipped)
	stats.FilesFailed = int(failed)
	stats.ChunksCreated = int(chunks)
	return nil
}

// indexBatch indexes a batch of files within one transaction
func (idx *Indexer) indexBatch(ctx context.Context, ws *storage.Workspace, rootPath string, files []string, config *Config,
	indexed, skipped, failed, chunks *int32, mu *sync.Mutex, stats *Statistics) error {

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	counters := &batchCounters{indexed: indexed, skipped: skipped, chunks: chunks, config: config}

	for _, filePath := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := idx.indexOne(ctx, tx, ws, rootPath, filePath, counters, stats); err != nil {
			atomic.AddInt32(failed, 1)
			mu.Lock()
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", filePath, err))
			mu.Unlock()
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type batchCounters struct {
	indexed *int32
	skipped *int32
	chunks  *int32
	config  *Config
}

// indexOne indexes one file against the given store (transaction or direct)
func (idx *Indexer) indexOne(ctx context.Context, store storage.Storage, ws *storage.Workspace, rootPath, filePath string, counters *batchCounters, stats *Statistics) error {
	relPath, err := relSlash(rootPath, filePath)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if !chunker.IsIndexableText(content) {
		return nil
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(content)

	existing, err := store.GetDocument(ctx, ws.ID, relPath)
	switch {
	case err == nil:
		if existing.ContentHash == hash {
			if counters != nil {
				atomic.AddInt32(counters.skipped, 1)
			}
			return nil
		}
		// Changed: old chunks go, FTS rows follow via triggers
		if err := store.DeleteChunksByDocument(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete old chunks: %w", err)
		}
	case err == storage.ErrNotFound:
		// New file
	default:
		return err
	}

	doc := &storage.Document{
		WorkspaceID: ws.ID,
		Path:        relPath,
		Language:    chunker.DetectLanguage(relPath),
		ContentHash: hash,
		ModTime:     info.ModTime(),
		SizeBytes:   info.Size(),
	}
	if err := store.UpsertDocument(ctx, doc); err != nil {
		return err
	}

	fileChunks := idx.chunker.ChunkText(string(content))
	for _, ch := range fileChunks {
		record := &storage.Chunk{
			DocumentID:  doc.ID,
			Content:     ch.Content,
			ContentHash: ch.ContentHash,
			StartLine:   ch.StartLine,
			EndLine:     ch.EndLine,
		}
		if err := store.UpsertChunk(ctx, record); err != nil {
			return fmt.Errorf("store chunk: %w", err)
		}
		if err := idx.embedChunk(ctx, store, record, counters); err != nil {
			// Embedding failures degrade to keyword-only retrieval for
			// this chunk
			idx.logger.Warn("embedding failed",
				zap.String("path", relPath),
				zap.Int("startLine", ch.StartLine),
				zap.Error(err))
		}
	}

	if counters != nil {
		atomic.AddInt32(counters.indexed, 1)
		atomic.AddInt32(counters.chunks, int32(len(fileChunks)))
	}
	return nil
}

func (idx *Indexer) embedChunk(ctx context.Context, store storage.Storage, chunk *storage.Chunk, counters *batchCounters) error {
	if idx.embedder == nil {
		return nil
	}
	if counters != nil && counters.config != nil && counters.config.SkipEmbeddings {
		return nil
	}

	emb, err := idx.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: chunk.Content})
	if err != nil {
		return err
	}
	return store.UpsertEmbedding(ctx, &storage.Embedding{
		ChunkID:   chunk.ID,
		Vector:    storage.SerializeVector(emb.Vector),
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
	})
}

// pruneDeleted removes documents whose files no longer exist on disk
func (idx *Indexer) pruneDeleted(ctx context.Context, ws *storage.Workspace, rootPath string, files []string) error {
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		rel, err := relSlash(rootPath, f)
		if err != nil {
			continue
		}
		onDisk[rel] = true
	}

	docs, err := idx.storage.ListDocuments(ctx, ws.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if !onDisk[doc.Path] {
			if err := idx.storage.DeleteDocument(ctx, doc.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (idx *Indexer) updateWorkspaceStats(ctx context.Context, ws *storage.Workspace) error {
	status, err := idx.storage.GetStatus(ctx, ws.ID)
	if err != nil {
		return err
	}

	ws.TotalDocuments = status.DocumentsCount
	ws.TotalChunks = status.ChunksCount
	ws.LastIndexedAt = time.Now()
	return idx.storage.UpdateWorkspace(ctx, ws)
}

// relSlash returns path relative to root with forward slashes
func relSlash(rootPath, path string) (string, error) {
	rel, err := filepath.Rel(rootPath, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
