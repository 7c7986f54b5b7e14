// Package mcp exposes context retrieval over the Model Context Protocol.
//
// The stdio server registers three tools: index_workspace builds or updates
// the local index for a workspace root, retrieve_context runs a fused
// retrieval query (strategy, character budget, optional editor state for
// priority context), and get_status reports index statistics.
//
// One fusion engine is built lazily per workspace root, wiring the local
// keyword and embeddings providers plus an optional remote search provider
// configured through CTXFUSE_REMOTE_URL. All logging goes to stderr via zap;
// stdout carries the protocol.
package mcp
