package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rjmcleod/ctxfuse/internal/priority"
	"github.com/rjmcleod/ctxfuse/internal/provider"
	"github.com/rjmcleod/ctxfuse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	items   []types.ContextItem
	err     error
	panics  bool
	queries int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Query(ctx context.Context, text string) ([]types.ContextItem, error) {
	f.queries++
	if f.panics {
		panic("provider exploded")
	}
	return f.items, f.err
}

func (f *fakeProvider) IndexStatus(ctx context.Context, rootPath string) provider.Status {
	return provider.StatusReady
}

func (f *fakeProvider) EnsureIndex(rootPath string, hard bool) {}

type fakeEditor struct {
	rootURI    string
	selection  *priority.Selection
	visibleURI string
	visible    string
	hasVisible bool
}

func (f *fakeEditor) WorkspaceRootURI() string             { return f.rootURI }
func (f *fakeEditor) ActiveSelection() *priority.Selection { return f.selection }
func (f *fakeEditor) VisibleContent() (string, string, bool) {
	return f.visibleURI, f.visible, f.hasVisible
}

func item(path, text string, source types.Source) types.ContextItem {
	return types.ContextItem{
		Text:   text,
		URI:    "file:///w/" + path,
		Path:   path,
		Source: source,
	}
}

func totalChars(items []types.ContextItem) int {
	n := 0
	for _, it := range items {
		n += it.Len()
	}
	return n
}

func TestFuse_BothFitUnderBudget(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 50), types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", items: []types.ContextItem{
		item("b.go", strings.Repeat("b", 50), types.SourceEmbeddings),
	}}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: 100}, nil)

	require.Len(t, got, 2)
	assert.Equal(t, types.SourceSearch, got[0].Source)
	assert.Equal(t, types.SourceEmbeddings, got[1].Source)
}

func TestFuse_KeywordCappedAtEightyPercent(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 90), types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", items: []types.ContextItem{
		item("b.go", strings.Repeat("b", 50), types.SourceEmbeddings),
	}}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: 100}, nil)

	require.Len(t, got, 1, "90-char keyword item exceeds the 80-char cap")
	assert.Equal(t, types.SourceEmbeddings, got[0].Source)
}

func TestFuse_NoEmbeddingsKeywordGetsFullBudget(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 90), types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings"} // returns nothing

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: 100}, nil)

	require.Len(t, got, 1, "with no embeddings results the cap is the full budget")
	assert.Equal(t, types.SourceSearch, got[0].Source)
}

func TestFuse_FailedEmbeddingsHandsBudgetToKeyword(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 90), types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", err: errors.New("index corrupt")}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: 100}, nil)

	require.Len(t, got, 1, "a failed embeddings provider must not reserve budget")
	assert.Equal(t, types.SourceSearch, got[0].Source)
}

func TestFuse_PanickingProviderIsIsolated(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", "keyword result", types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", panics: true}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: 1000}, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "keyword result", got[0].Text)
}

func TestFuse_GreedyFirstFitSkipsOversizedOnly(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 60), types.SourceSearch),
		item("b.go", strings.Repeat("b", 60), types.SourceSearch), // overflows, skipped
		item("c.go", strings.Repeat("c", 30), types.SourceSearch), // still tried
	}}

	e := NewEngine(nil, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 100}, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "a.go", got[0].Path)
	assert.Equal(t, "c.go", got[1].Path, "items after an oversized one must still be tried")
}

func TestFuse_BudgetInvariant(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 35), types.SourceSearch),
		item("b.go", strings.Repeat("b", 35), types.SourceSearch),
		item("c.go", strings.Repeat("c", 35), types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", items: []types.ContextItem{
		item("d.go", strings.Repeat("d", 35), types.SourceEmbeddings),
		item("e.go", strings.Repeat("e", 35), types.SourceEmbeddings),
	}}

	for _, budget := range []int{0, 10, 50, 100, 200, 1000} {
		e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
		got := e.Fuse(context.Background(), Request{Strategy: StrategyAuto, Query: "q", Budget: budget}, nil)

		assert.LessOrEqual(t, totalChars(got), budget, "budget %d", budget)

		keywordChars := 0
		hasEmbeddings := false
		for _, it := range got {
			if it.Source == types.SourceSearch {
				keywordChars += it.Len()
			} else {
				hasEmbeddings = true
			}
		}
		if hasEmbeddings {
			assert.LessOrEqual(t, keywordChars, int(0.8*float64(budget)), "budget %d", budget)
		}
	}
}

func TestFuse_LocalBeforeRemote(t *testing.T) {
	local := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("local.go", "local", types.SourceSearch),
	}}
	remote := &fakeProvider{name: "remote", items: []types.ContextItem{
		item("remote.go", "remote", types.SourceUnified),
	}}

	e := NewEngine(nil, []provider.Provider{local, remote}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 1000}, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "local.go", got[0].Path)
	assert.Equal(t, "remote.go", got[1].Path)
}

func TestFuse_StrategyNone(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", "should not appear", types.SourceSearch),
	}}
	ed := &fakeEditor{visibleURI: "file:///w/open.go", visible: "package open", hasVisible: true}

	e := NewEngine(nil, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyNone, Query: "q", Budget: 1000}, ed)

	require.Len(t, got, 1)
	assert.Equal(t, types.SourceEditor, got[0].Source)
	assert.Equal(t, "package open", got[0].Text)
	assert.Zero(t, kw.queries, "strategy none must not query providers")

	// No editor open: empty result
	got = e.Fuse(context.Background(), Request{Strategy: StrategyNone, Query: "q", Budget: 1000}, &fakeEditor{})
	assert.Empty(t, got)
}

func TestFuse_StrategyKeywordSkipsEmbeddings(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", "kw", types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", items: []types.ContextItem{
		item("b.go", "emb", types.SourceEmbeddings),
	}}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 1000}, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "a.go", got[0].Path)
	assert.Zero(t, emb.queries)
}

func TestFuse_StrategyEmbeddingsSkipsKeyword(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", "kw", types.SourceSearch),
	}}
	emb := &fakeProvider{name: "embeddings", items: []types.ContextItem{
		item("b.go", "emb", types.SourceEmbeddings),
	}}

	e := NewEngine(emb, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyEmbeddings, Query: "q", Budget: 1000}, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "b.go", got[0].Path)
	assert.Zero(t, kw.queries)
}

func TestFuse_DeterministicOrdering(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("z.go", "zzz", types.SourceSearch),
		item("a.go", "bbb", types.SourceSearch),
		item("a.go", "aaa", types.SourceSearch),
	}}

	e := NewEngine(nil, []provider.Provider{kw}, nil, nil, WithDeterministicOrder())
	got := e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 1000}, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "aaa", got[0].Text)
	assert.Equal(t, "bbb", got[1].Text)
	assert.Equal(t, "z.go", got[2].Path)
}

func TestFuse_PriorityContextIsAdditive(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", strings.Repeat("a", 100), types.SourceSearch),
	}}
	ed := &fakeEditor{
		selection: &priority.Selection{
			URI:     "file:///w/sel.go",
			Content: strings.Repeat("s", 500),
		},
	}

	e := NewEngine(nil, []provider.Provider{kw}, nil, nil)
	got := e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 100}, ed)

	require.Len(t, got, 2)
	assert.Equal(t, types.SourceSelection, got[0].Source, "priority context comes first")
	assert.Equal(t, types.SourceSearch, got[1].Source)
	assert.Greater(t, totalChars(got), 100, "priority context sits on top of the budget")
}

func TestFuse_CacheServesRepeatQueries(t *testing.T) {
	kw := &fakeProvider{name: "keyword", items: []types.ContextItem{
		item("a.go", "cached", types.SourceSearch),
	}}

	e := NewEngine(nil, []provider.Provider{kw}, nil, nil, WithCache(16))
	req := Request{Strategy: StrategyKeyword, Query: "q", Budget: 1000}

	first := e.Fuse(context.Background(), req, nil)
	second := e.Fuse(context.Background(), req, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, kw.queries, "second query must come from the cache")

	// A different budget is a different cache entry
	e.Fuse(context.Background(), Request{Strategy: StrategyKeyword, Query: "q", Budget: 999}, nil)
	assert.Equal(t, 2, kw.queries)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	cache := newResultCache(16, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	req := Request{Strategy: StrategyKeyword, Query: "q", Budget: 100}
	cache.put(req, []types.ContextItem{item("a.go", "x", types.SourceSearch)})

	_, ok := cache.get(req)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.get(req)
	assert.False(t, ok, "entries past the TTL are dropped")
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"none", "embeddings", "keyword", "auto"} {
		s, err := ParseStrategy(valid)
		require.NoError(t, err)
		assert.Equal(t, Strategy(valid), s)
	}

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, s)

	_, err = ParseStrategy("hybrid")
	assert.Error(t, err)
}
