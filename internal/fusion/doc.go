// Package fusion merges retrieval results from multiple providers into one
// budget-bounded context list.
//
// A query fans out concurrently to the embeddings provider and the keyword
// providers allowed by its strategy. A provider failure or panic degrades to
// an empty result for that provider only. Keyword results are concatenated
// in provider order (local before remote), then fused greedily first-fit
// under the character budget: keyword items may use at most 80% of the
// budget when embeddings results exist, embeddings items fill the rest.
// Priority context (selection, visible editor, README) is prepended on top
// of the budget, not inside it.
package fusion
