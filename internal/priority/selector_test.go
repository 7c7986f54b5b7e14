package priority

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjmcleod/ctxfuse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	rootURI    string
	selection  *Selection
	visibleURI string
	visible    string
	hasVisible bool
}

func (f *fakeEditor) WorkspaceRootURI() string     { return f.rootURI }
func (f *fakeEditor) ActiveSelection() *Selection  { return f.selection }
func (f *fakeEditor) VisibleContent() (string, string, bool) {
	return f.visibleURI, f.visible, f.hasVisible
}

func workspaceWithReadme(t *testing.T, name, readmeName, content string) (string, string) {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if readmeName != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, readmeName), []byte(content), 0o644))
	}
	return dir, "file://" + filepath.ToSlash(dir)
}

func TestSelectionAlwaysWins(t *testing.T) {
	dir, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "# My Repo\n")
	_ = dir

	ed := &fakeEditor{
		rootURI: rootURI,
		selection: &Selection{
			URI:       rootURI + "/main.go",
			Content:   "func main() {}",
			StartLine: 3,
			EndLine:   3,
		},
		visible:    "full file content",
		hasVisible: true,
	}

	// A query that would otherwise hit the editor and README rules
	items := NewSelector(nil).SelectPriority("what is this project? explain the current file", ed, nil)

	require.Len(t, items, 1)
	assert.Equal(t, types.SourceSelection, items[0].Source)
	assert.Equal(t, "func main() {}", items[0].Text)
	assert.Equal(t, 3, items[0].StartLine)
}

func TestEmptySelectionDoesNotFire(t *testing.T) {
	ed := &fakeEditor{
		selection:  &Selection{URI: "file:///w/a.go", Content: "   \n"},
		visibleURI: "file:///w/a.go",
		visible:    "package a",
		hasVisible: true,
	}

	items := NewSelector(nil).SelectPriority("explain this file", ed, nil)
	require.Len(t, items, 1)
	assert.Equal(t, types.SourceEditor, items[0].Source, "blank selection falls through to the editor rule")
}

func TestEditorAttentionPatterns(t *testing.T) {
	queries := []string{
		"what does the code in my EDITOR do",
		"summarize the current file",
		"explain this file please",
		"refactor the entire file",
		"what do I currently open",
		"tests for the file I have open",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			ed := &fakeEditor{
				visibleURI: "file:///w/handler.go",
				visible:    "package web",
				hasVisible: true,
			}
			items := NewSelector(nil).SelectPriority(q, ed, nil)
			require.Len(t, items, 1)
			assert.Equal(t, types.SourceEditor, items[0].Source)
			assert.Equal(t, "package web", items[0].Text)
		})
	}
}

func TestEditorAttention_NoEditorOpen(t *testing.T) {
	ed := &fakeEditor{hasVisible: false}
	items := NewSelector(nil).SelectPriority("explain this file", ed, nil)
	assert.Empty(t, items, "attention rule consumed the query even with nothing to show")
}

func TestReadmeForProjectQuestion(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "# myrepo\n\nA thing.\n")
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("what is this project?", ed, nil)

	require.Len(t, items, 1)
	assert.Equal(t, "README.md", items[0].Path)
	assert.Contains(t, items[0].Text, "# myrepo")
	assert.Equal(t, 1, items[0].StartLine)
}

func TestReadme_WorkspaceFolderNameCountsAsProjectToken(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "docs\n")
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("how does myrepo handle auth?", ed, nil)
	require.Len(t, items, 1)
	assert.Equal(t, "README.md", items[0].Path)
}

func TestReadme_SkippedWhenAlreadyRetrieved(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "docs\n")
	ed := &fakeEditor{rootURI: rootURI}

	already := []types.ContextItem{
		{Path: "docs/readme.MD", Text: "x", URI: "file:///w/docs/readme.MD", Source: types.SourceSearch},
	}
	items := NewSelector(nil).SelectPriority("what is this project?", ed, already)
	assert.Empty(t, items)
}

func TestReadme_NoProjectToken(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "docs\n")
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("what is a goroutine?", ed, nil)
	assert.Empty(t, items)
}

func TestReadme_QuestionTokenOutsideFirstClause(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "docs\n")
	ed := &fakeEditor{rootURI: rootURI}

	// The question indicator must come from the first ?-terminated clause;
	// "what" appears only after it
	items := NewSelector(nil).SelectPriority("run the build? then what about the project", ed, nil)
	require.Len(t, items, 1, "the literal ? in the first clause is itself an indicator")

	// A long query with no ? at all has no clause to inspect
	long := strings.Repeat("describe the project ", 10)
	require.GreaterOrEqual(t, len(long), 100)
	items = NewSelector(nil).SelectPriority(long, ed, nil)
	assert.Empty(t, items)
}

func TestReadme_CapitalizationVariants(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "readme.txt", "lowercase readme\n")
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("describe this repo", ed, nil)
	require.Len(t, items, 1)
	assert.Equal(t, "readme.txt", items[0].Path)
}

func TestReadme_TruncatesOnLineBoundaries(t *testing.T) {
	line := strings.Repeat("x", 100)
	content := strings.Repeat(line+"\n", 200) // ~20KB
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", content)
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("what is this project?", ed, nil)
	require.Len(t, items, 1)
	assert.LessOrEqual(t, len(items[0].Text), ReadmeMaxBytes)
	for _, l := range strings.Split(items[0].Text, "\n") {
		assert.Len(t, l, 100, "no partial lines after truncation")
	}
}

func TestNoRuleFires(t *testing.T) {
	_, rootURI := workspaceWithReadme(t, "myrepo", "README.md", "docs\n")
	ed := &fakeEditor{rootURI: rootURI}

	items := NewSelector(nil).SelectPriority("implement quicksort in Go", ed, nil)
	assert.Empty(t, items)
}

func TestNilEditor(t *testing.T) {
	items := NewSelector(nil).SelectPriority("what is this project?", nil, nil)
	assert.Empty(t, items)
}
