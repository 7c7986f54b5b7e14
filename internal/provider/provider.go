package provider

import (
	"context"

	"github.com/rjmcleod/ctxfuse/pkg/types"
)

// DefaultLimit is the per-provider result cap for a single query
const DefaultLimit = 20

// Status describes a provider's index readiness for a workspace root
type Status string

const (
	StatusReady     Status = "ready"
	StatusIndexing  Status = "indexing"
	StatusUnindexed Status = "unindexed"
)

// Provider is one retrieval source. The fusion engine depends only on this
// interface; embeddings, keyword search, and remote search each implement it
// with their own error shapes hidden behind the error return.
type Provider interface {
	// Name identifies the provider in logs
	Name() string

	// Query retrieves context items for a query. Order within the result
	// is the provider's own ranking and is preserved by fusion.
	Query(ctx context.Context, text string) ([]types.ContextItem, error)

	// IndexStatus reports index readiness for a workspace root
	IndexStatus(ctx context.Context, rootPath string) Status

	// EnsureIndex triggers indexing for a root without waiting for it.
	// When hard is true the index is rebuilt from scratch.
	EnsureIndex(rootPath string, hard bool)
}

// IndexTrigger starts indexing a root. Wired in by the caller that owns the
// indexer; a nil trigger makes EnsureIndex a no-op.
type IndexTrigger func(rootPath string, hard bool)
