// Package embedder generates vector embeddings for text chunks.
//
// Three providers are available: OpenAI (remote API, 1536 dimensions),
// Ollama (local HTTP server, 768 dimensions), and a deterministic local
// provider (hash-derived vectors, 384 dimensions) that needs no network.
// NewFromEnv selects one based on CTXFUSE_EMBEDDING_PROVIDER, defaulting
// to local.
//
// All providers share an LRU cache keyed by the SHA-256 of the input text,
// and remote calls retry with exponential backoff.
package embedder
