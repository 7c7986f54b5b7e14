package priority

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rjmcleod/ctxfuse/pkg/types"
	"go.uber.org/zap"
)

// ReadmeMaxBytes caps how much of a README is returned as priority context.
// Truncation happens on whole-line boundaries.
const ReadmeMaxBytes = 8192

// readmeGlobs are the capitalization variants probed for a workspace README,
// in order. Only the first match is used.
var readmeGlobs = []string{"README*", "README.*", "readme.*", "Readm.*"}

// Selection is an active editor text selection
type Selection struct {
	URI       string
	Content   string
	StartLine int
	EndLine   int
}

// Editor is the view of editor state the selector consumes. Implementations
// come from the MCP tool arguments or a live editor integration.
type Editor interface {
	// WorkspaceRootURI returns the root of the active workspace, or ""
	WorkspaceRootURI() string

	// ActiveSelection returns the current non-empty selection, or nil
	ActiveSelection() *Selection

	// VisibleContent returns the URI and content of the visible editor
	// viewport; ok is false when no editor is open
	VisibleContent() (uri, content string, ok bool)
}

// attentionPatterns detect queries that refer to what the user is looking at
// right now. Matching any of them routes the visible editor content into the
// result.
var attentionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\beditor\b`),
	regexp.MustCompile(`(?i)\b(open|current|this|entire)\s+file\b`),
	regexp.MustCompile(`(?i)\bcurrently\s+open\b`),
	regexp.MustCompile(`(?i)\bhave\s+open\b`),
}

var (
	questionTokens = map[string]bool{
		"what": true, "how": true, "describe": true, "explain": true,
	}
	projectTokens = map[string]bool{
		"project": true, "repository": true, "repo": true, "library": true,
		"package": true, "module": true, "codebase": true,
	}
	nonWord = regexp.MustCompile(`\W+`)
)

// Selector picks context the user almost certainly wants ahead of anything
// retrieval finds. Exactly one rule fires per query, in strict precedence:
// active selection, then editor attention, then workspace README for
// project-level questions.
type Selector struct {
	readmeMaxBytes int
	logger         *zap.Logger
}

// NewSelector creates a Selector with the default README cap
func NewSelector(logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		readmeMaxBytes: ReadmeMaxBytes,
		logger:         logger,
	}
}

// SelectPriority returns the priority context for a query. The result is
// prepended to fused retrieval results and is not counted against the fusion
// budget.
func (s *Selector) SelectPriority(queryText string, editor Editor, alreadyRetrieved []types.ContextItem) []types.ContextItem {
	if editor == nil {
		return nil
	}

	if sel := editor.ActiveSelection(); sel != nil && strings.TrimSpace(sel.Content) != "" {
		return []types.ContextItem{{
			Text:      sel.Content,
			URI:       sel.URI,
			Path:      uriPath(sel.URI),
			StartLine: sel.StartLine,
			EndLine:   sel.EndLine,
			Source:    types.SourceSelection,
		}}
	}

	if wantsVisibleEditor(queryText) {
		uri, content, ok := editor.VisibleContent()
		if ok && content != "" {
			return []types.ContextItem{{
				Text:   content,
				URI:    uri,
				Path:   uriPath(uri),
				Source: types.SourceEditor,
			}}
		}
		return nil
	}

	if s.wantsReadme(queryText, editor, alreadyRetrieved) {
		if item := s.readReadme(editor.WorkspaceRootURI()); item != nil {
			return []types.ContextItem{*item}
		}
	}

	return nil
}

// wantsVisibleEditor reports whether the query refers to the open editor
func wantsVisibleEditor(queryText string) bool {
	for _, p := range attentionPatterns {
		if p.MatchString(queryText) {
			return true
		}
	}
	return false
}

// wantsReadme fires for project-level questions when no README was already
// retrieved. The question indicator comes from the first ?-terminated clause
// or, with no ? at all, from the whole query when it is short.
func (s *Selector) wantsReadme(queryText string, editor Editor, alreadyRetrieved []types.ContextItem) bool {
	clause := questionClause(queryText)
	if clause == "" {
		return false
	}

	if !hasQuestionToken(clause) {
		return false
	}
	if !hasProjectToken(queryText, editor.WorkspaceRootURI()) {
		return false
	}
	return !containsReadme(alreadyRetrieved)
}

func questionClause(queryText string) string {
	if idx := strings.Index(queryText, "?"); idx >= 0 {
		return queryText[:idx+1]
	}
	if len(queryText) < 100 {
		return queryText
	}
	return ""
}

func hasQuestionToken(clause string) bool {
	if strings.Contains(clause, "?") {
		return true
	}
	for _, tok := range nonWord.Split(strings.ToLower(clause), -1) {
		if questionTokens[tok] {
			return true
		}
	}
	return false
}

func hasProjectToken(queryText, rootURI string) bool {
	folderName := strings.ToLower(filepath.Base(uriPath(rootURI)))
	for _, tok := range nonWord.Split(strings.ToLower(queryText), -1) {
		if projectTokens[tok] {
			return true
		}
		if folderName != "" && folderName != "." && tok == folderName {
			return true
		}
	}
	return false
}

// containsReadme reports whether any retrieved item is a README, matched by
// basename: exactly "readme" or a "readme." prefix, case-insensitive.
func containsReadme(items []types.ContextItem) bool {
	for _, item := range items {
		p := item.Path
		if p == "" {
			p = uriPath(item.URI)
		}
		base := strings.ToLower(filepath.Base(p))
		if base == "readme" || strings.HasPrefix(base, "readme.") {
			return true
		}
	}
	return false
}

// readReadme locates and loads the workspace README, truncated on line
// boundaries to the byte cap
func (s *Selector) readReadme(rootURI string) *types.ContextItem {
	rootPath := uriPath(rootURI)
	if rootPath == "" {
		return nil
	}

	var readmePath string
	for _, pattern := range readmeGlobs {
		matches, err := filepath.Glob(filepath.Join(rootPath, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		readmePath = matches[0]
		break
	}
	if readmePath == "" {
		return nil
	}

	content, err := os.ReadFile(readmePath)
	if err != nil {
		s.logger.Debug("failed to read README", zap.String("path", readmePath), zap.Error(err))
		return nil
	}

	text := truncateOnLines(string(content), s.readmeMaxBytes)
	if text == "" {
		return nil
	}

	lineCount := strings.Count(text, "\n") + 1
	return &types.ContextItem{
		Text:      text,
		URI:       "file://" + filepath.ToSlash(readmePath),
		Path:      filepath.Base(readmePath),
		StartLine: 1,
		EndLine:   lineCount,
		Source:    types.SourceEditor,
		Title:     filepath.Base(readmePath),
	}
}

// truncateOnLines keeps whole lines up to maxBytes
func truncateOnLines(content string, maxBytes int) string {
	if len(content) <= maxBytes {
		return strings.TrimRight(content, "\n")
	}

	lines := strings.Split(content, "\n")
	var b strings.Builder
	for _, line := range lines {
		add := len(line)
		if b.Len() > 0 {
			add++
		}
		if b.Len()+add > maxBytes {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// uriPath extracts the path from a file URI, tolerating plain paths
func uriPath(uri string) string {
	if uri == "" {
		return ""
	}
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" {
		return u.Path
	}
	return uri
}
