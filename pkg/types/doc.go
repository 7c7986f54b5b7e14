// Package types provides shared type definitions for the ctxfuse engine.
//
// The central type is ContextItem, one retrieved text snippet plus its
// provenance and location:
//
//	item := types.ContextItem{
//	    Text:      snippet,
//	    URI:       "file:///w/internal/auth/session.go",
//	    Path:      "internal/auth/session.go",
//	    StartLine: 42,
//	    EndLine:   80,
//	    Source:    types.SourceSearch,
//	}
//
// Source distinguishes how an item was obtained: forced user focus
// (SourceEditor, SourceSelection), local retrieval (SourceSearch,
// SourceEmbeddings), or remote server-side search (SourceUnified). The
// fusion engine treats search and unified items as keyword-origin and
// embeddings items as a separate pool with its own budget share.
package types
