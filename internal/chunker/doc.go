// Package chunker splits document text into overlapping line windows for
// indexing. Windows default to 50 lines with a 5 line overlap so a match
// near a boundary still carries surrounding context, and no chunk exceeds
// MaxChunkBytes. IsIndexableText filters binary files before chunking.
package chunker
