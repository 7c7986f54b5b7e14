// Package provider defines the retrieval sources fused into context results:
// BM25 keyword search and vector similarity over the local SQLite index, and
// a hosted search API for remote repositories. The fusion engine consumes
// only the Provider interface, so provider failures stay isolated.
package provider
