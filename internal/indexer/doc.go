// Package indexer keeps the local context index in sync with a workspace.
//
// IndexWorkspace walks the tree, filters through the ignore matcher, skips
// binary and oversized files, and chunks the rest into the store. Unchanged
// files are detected by SHA-256 content hash and skipped, so re-running the
// indexer is cheap:
//
//	idx := indexer.New(store, matcher, emb, logger)
//	stats, err := idx.IndexWorkspace(ctx, "/path/to/workspace", nil)
//
// Files are processed in transaction-sized batches by a bounded worker pool
// (errgroup + semaphore). When an embedder is configured, each chunk also
// gets a vector embedding; an embedding failure degrades that chunk to
// keyword-only retrieval instead of failing the run.
//
// Watcher adds incremental maintenance: file writes re-index the single
// changed file after a short debounce, deletions drop the document and its
// chunks.
package indexer
