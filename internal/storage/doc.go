// Package storage persists the local context index in SQLite.
//
// The schema has four entities: workspaces (one row per indexed root),
// documents (tracked files, hash-keyed for incremental re-index), chunks
// (line-window sections of documents, mirrored into an FTS5 table by
// triggers), and embeddings (one vector per chunk).
//
// Two query paths feed the retrieval providers:
//
//	results, err := store.SearchText(ctx, wsID, "parse config", 20)   // BM25
//	results, err := store.SearchVector(ctx, wsID, queryVec, 20)       // cosine
//
// Both return chunk IDs plus a higher-is-better score; callers join back to
// chunk and document rows for content and location.
//
// # Drivers
//
// The SQLite driver is selected at build time. The default purego build uses
// modernc.org/sqlite and computes vector similarity in Go. Building with
// -tags sqlite_vec switches to mattn/go-sqlite3 and pushes cosine distance
// into SQL via the sqlite-vec extension. See build_purego.go and
// build_cgo.go.
//
// # Transactions
//
// BeginTx returns a Tx that embeds the Storage interface, so indexing
// batches run against the same API:
//
//	tx, _ := store.BeginTx(ctx)
//	defer tx.Rollback()
//	_ = tx.UpsertDocument(ctx, doc)
//	_ = tx.Commit()
package storage
