package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjmcleod/ctxfuse/internal/embedder"
	"github.com/rjmcleod/ctxfuse/internal/storage"
	"github.com/rjmcleod/ctxfuse/pkg/types"
	"go.uber.org/zap"
)

// EmbeddingsProvider retrieves chunks by vector similarity over the local
// index. The query text is embedded with the same provider that indexed the
// workspace.
type EmbeddingsProvider struct {
	store    storage.Storage
	embedder embedder.Embedder
	rootPath string
	limit    int
	trigger  IndexTrigger
	logger   *zap.Logger
}

// NewEmbeddingsProvider creates an embeddings provider bound to a workspace root
func NewEmbeddingsProvider(store storage.Storage, emb embedder.Embedder, rootPath string, trigger IndexTrigger, logger *zap.Logger) *EmbeddingsProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingsProvider{
		store:    store,
		embedder: emb,
		rootPath: rootPath,
		limit:    DefaultLimit,
		trigger:  trigger,
		logger:   logger,
	}
}

func (e *EmbeddingsProvider) Name() string { return "embeddings" }

func (e *EmbeddingsProvider) Query(ctx context.Context, text string) ([]types.ContextItem, error) {
	ws, err := e.store.GetWorkspace(ctx, e.rootPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	queryEmb, err := e.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.store.SearchVector(ctx, ws.ID, queryEmb.Vector, e.limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return resolveChunks(ctx, e.store, e.rootPath, results, types.SourceEmbeddings)
}

func (e *EmbeddingsProvider) IndexStatus(ctx context.Context, rootPath string) Status {
	return localIndexStatus(ctx, e.store, rootPath)
}

func (e *EmbeddingsProvider) EnsureIndex(rootPath string, hard bool) {
	if e.trigger != nil {
		e.trigger(rootPath, hard)
	}
}
