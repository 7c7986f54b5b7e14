package provider

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rjmcleod/ctxfuse/internal/storage"
	"github.com/rjmcleod/ctxfuse/pkg/types"
	"go.uber.org/zap"
)

// KeywordProvider retrieves chunks by BM25 full-text search over the local
// index
type KeywordProvider struct {
	store    storage.Storage
	rootPath string
	limit    int
	trigger  IndexTrigger
	logger   *zap.Logger
}

// NewKeywordProvider creates a keyword provider bound to a workspace root
func NewKeywordProvider(store storage.Storage, rootPath string, trigger IndexTrigger, logger *zap.Logger) *KeywordProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordProvider{
		store:    store,
		rootPath: rootPath,
		limit:    DefaultLimit,
		trigger:  trigger,
		logger:   logger,
	}
}

func (k *KeywordProvider) Name() string { return "keyword" }

func (k *KeywordProvider) Query(ctx context.Context, text string) ([]types.ContextItem, error) {
	ws, err := k.store.GetWorkspace(ctx, k.rootPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	results, err := k.store.SearchText(ctx, ws.ID, text, k.limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	return resolveChunks(ctx, k.store, k.rootPath, results, types.SourceSearch)
}

func (k *KeywordProvider) IndexStatus(ctx context.Context, rootPath string) Status {
	return localIndexStatus(ctx, k.store, rootPath)
}

func (k *KeywordProvider) EnsureIndex(rootPath string, hard bool) {
	if k.trigger != nil {
		k.trigger(rootPath, hard)
	}
}

// resolveChunks joins search results back to chunk and document rows and
// builds context items in result order. Missing rows (deleted between search
// and join) are skipped.
func resolveChunks[R any](ctx context.Context, store storage.Storage, rootPath string, results []R, source types.Source) ([]types.ContextItem, error) {
	items := make([]types.ContextItem, 0, len(results))
	for _, r := range results {
		var id int64
		switch v := any(r).(type) {
		case storage.TextResult:
			id = v.ChunkID
		case storage.VectorResult:
			id = v.ChunkID
		default:
			return nil, fmt.Errorf("unsupported search result type %T", r)
		}

		chunk, err := store.GetChunk(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load chunk %d: %w", id, err)
		}
		doc, err := store.GetDocumentByID(ctx, chunk.DocumentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load document %d: %w", chunk.DocumentID, err)
		}

		items = append(items, types.ContextItem{
			Text:      chunk.Content,
			URI:       "file://" + filepath.ToSlash(filepath.Join(rootPath, doc.Path)),
			Path:      doc.Path,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Source:    source,
		})
	}
	return items, nil
}

// localIndexStatus maps workspace state to a provider status
func localIndexStatus(ctx context.Context, store storage.Storage, rootPath string) Status {
	ws, err := store.GetWorkspace(ctx, rootPath)
	if err != nil {
		return StatusUnindexed
	}
	if ws.LastIndexedAt.IsZero() {
		return StatusIndexing
	}
	return StatusReady
}
