package types

// Source identifies where a context item came from
type Source string

const (
	// SourceEditor is content taken from the visible editor viewport
	SourceEditor Source = "editor"
	// SourceSelection is the user's active text selection
	SourceSelection Source = "selection"
	// SourceSearch is a local keyword/full-text search hit
	SourceSearch Source = "search"
	// SourceEmbeddings is a local embeddings similarity hit
	SourceEmbeddings Source = "embeddings"
	// SourceUnified is a remote server-side search hit
	SourceUnified Source = "unified"
)

// ContextItem is a single retrieved snippet eligible for inclusion in a
// model prompt. Items are immutable once produced; providers create them
// and the caller that issued the query owns and discards them.
type ContextItem struct {
	// Text is the snippet content. Its length is the item's budget cost.
	Text string

	// URI locates the originating document (file:// for local items)
	URI string

	// Path is the workspace-relative path when known
	Path string

	// StartLine and EndLine bound the snippet (1-based, inclusive).
	// Both zero means the whole document.
	StartLine int
	EndLine   int

	// Source records provenance
	Source Source

	// Remote-origin metadata. Empty for local items.
	RepoName string
	Title    string
	Revision string
}

// Len returns the item's cost against a character budget
func (ci *ContextItem) Len() int {
	return len(ci.Text)
}

// Validate checks if the context item is well formed
func (ci *ContextItem) Validate() error {
	if ci.Text == "" {
		return ErrEmptyText
	}

	if ci.URI == "" {
		return ErrMissingURI
	}

	switch ci.Source {
	case SourceEditor, SourceSelection, SourceSearch, SourceEmbeddings, SourceUnified:
	default:
		return ErrUnknownSource
	}

	if ci.StartLine < 0 || ci.EndLine < 0 {
		return ErrInvalidRange
	}

	if ci.EndLine > 0 && ci.StartLine > ci.EndLine {
		return ErrInvalidRange
	}

	return nil
}

// TotalChars sums the budget cost of a list of items
func TotalChars(items []ContextItem) int {
	total := 0
	for i := range items {
		total += items[i].Len()
	}
	return total
}
