package fusion

import (
	"context"
	"fmt"
	"sort"

	"github.com/rjmcleod/ctxfuse/internal/priority"
	"github.com/rjmcleod/ctxfuse/internal/provider"
	"github.com/rjmcleod/ctxfuse/pkg/types"
	"go.uber.org/zap"
)

// Strategy constrains which providers participate in a query
type Strategy string

const (
	// StrategyNone skips retrieval entirely; only the visible editor
	// content is returned
	StrategyNone Strategy = "none"
	// StrategyEmbeddings queries only the embeddings provider
	StrategyEmbeddings Strategy = "embeddings"
	// StrategyKeyword queries only the keyword providers
	StrategyKeyword Strategy = "keyword"
	// StrategyAuto queries everything
	StrategyAuto Strategy = "auto"
)

// ParseStrategy validates a strategy string, defaulting empty to auto
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyNone, StrategyEmbeddings, StrategyKeyword, StrategyAuto:
		return Strategy(s), nil
	case "":
		return StrategyAuto, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// keywordBudgetShare is the fraction of the budget keyword results may
// consume when embeddings results are also present
const keywordBudgetShare = 0.8

// Request is one fused retrieval query
type Request struct {
	Strategy Strategy
	Query    string
	// Budget is the maximum total characters of search-derived context.
	// Priority context is additive on top.
	Budget int
}

// Engine fans a query out to retrieval providers, fuses their results under
// the character budget, and prepends priority context.
type Engine struct {
	embeddings provider.Provider   // may be nil
	keyword    []provider.Provider // queried and concatenated in this order
	selector   *priority.Selector

	// deterministic sorts keyword items by (path, text) before fusion so
	// fixtures produce stable output regardless of engine-internal ranking
	deterministic bool

	cache  *resultCache
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithDeterministicOrder enables deterministic keyword ordering
func WithDeterministicOrder() Option {
	return func(e *Engine) { e.deterministic = true }
}

// WithCache enables the fused-result cache
func WithCache(maxEntries int) Option {
	return func(e *Engine) { e.cache = newResultCache(maxEntries, defaultCacheTTL) }
}

// NewEngine creates a fusion engine. embeddings may be nil when no vector
// index exists; keyword providers are queried in slice order, which fixes
// the local-before-remote concatenation order.
func NewEngine(embeddings provider.Provider, keyword []provider.Provider, selector *priority.Selector, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if selector == nil {
		selector = priority.NewSelector(logger)
	}
	e := &Engine{
		embeddings: embeddings,
		keyword:    keyword,
		selector:   selector,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fuse runs one retrieval query. Provider failures degrade to empty results
// for that provider only, so Fuse itself never fails; the worst case is an
// empty list.
func (e *Engine) Fuse(ctx context.Context, req Request, editor priority.Editor) []types.ContextItem {
	if req.Strategy == StrategyNone {
		return visibleEditorOnly(editor)
	}

	fused, cached := e.cachedFusion(req)
	if !cached {
		keywordItems, embeddingsItems := e.fanOut(ctx, req)
		if e.deterministic {
			sortItems(keywordItems)
		}
		fused = fuseBudgeted(keywordItems, embeddingsItems, req.Budget)
		e.storeFusion(req, fused)
	}

	prioritized := e.selector.SelectPriority(req.Query, editor, fused)
	if len(prioritized) == 0 {
		return fused
	}
	return append(prioritized, fused...)
}

// fanOut queries the participating providers concurrently and joins their
// results, keyword items concatenated in provider order.
func (e *Engine) fanOut(ctx context.Context, req Request) (keyword, embeddings []types.ContextItem) {
	type slot struct {
		idx   int // -1 marks the embeddings result
		items []types.ContextItem
	}

	queryEmbeddings := e.embeddings != nil && req.Strategy != StrategyKeyword
	queryKeyword := req.Strategy != StrategyEmbeddings

	expected := 0
	results := make(chan slot, len(e.keyword)+1)

	if queryEmbeddings {
		expected++
		go func() {
			results <- slot{idx: -1, items: e.safeQuery(ctx, e.embeddings, req.Query)}
		}()
	}
	if queryKeyword {
		for i, p := range e.keyword {
			expected++
			go func(i int, p provider.Provider) {
				results <- slot{idx: i, items: e.safeQuery(ctx, p, req.Query)}
			}(i, p)
		}
	}

	byProvider := make([][]types.ContextItem, len(e.keyword))
	for n := 0; n < expected; n++ {
		s := <-results
		if s.idx < 0 {
			embeddings = s.items
		} else {
			byProvider[s.idx] = s.items
		}
	}

	for _, items := range byProvider {
		keyword = append(keyword, items...)
	}
	return keyword, embeddings
}

// safeQuery wraps a provider call so an error or panic degrades to an empty
// result for that provider only
func (e *Engine) safeQuery(ctx context.Context, p provider.Provider, query string) (items []types.ContextItem) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("context provider panicked",
				zap.String("provider", p.Name()),
				zap.Any("panic", r))
			items = nil
		}
	}()

	items, err := p.Query(ctx, query)
	if err != nil {
		e.logger.Warn("context provider failed",
			zap.String("provider", p.Name()),
			zap.Error(err))
		return nil
	}
	return items
}

// fuseBudgeted merges keyword and embeddings items under the character
// budget with greedy first-fit: an item that would overflow is skipped whole
// and later smaller items are still tried. Keyword items are capped at 80%
// of the budget whenever any embeddings items exist, which means a failed
// embeddings provider hands its share back to keyword results.
func fuseBudgeted(keyword, embeddings []types.ContextItem, budget int) []types.ContextItem {
	if budget <= 0 {
		return []types.ContextItem{}
	}

	keywordCap := budget
	if len(embeddings) > 0 {
		keywordCap = int(keywordBudgetShare * float64(budget))
	}

	fused := make([]types.ContextItem, 0, len(keyword)+len(embeddings))
	used := 0

	for _, item := range keyword {
		if used+item.Len() <= keywordCap {
			fused = append(fused, item)
			used += item.Len()
		}
	}
	for _, item := range embeddings {
		if used+item.Len() <= budget {
			fused = append(fused, item)
			used += item.Len()
		}
	}
	return fused
}

// sortItems orders items by path then text
func sortItems(items []types.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Path != items[j].Path {
			return items[i].Path < items[j].Path
		}
		return items[i].Text < items[j].Text
	})
}

func visibleEditorOnly(editor priority.Editor) []types.ContextItem {
	if editor == nil {
		return nil
	}
	uri, content, ok := editor.VisibleContent()
	if !ok || content == "" {
		return nil
	}
	return []types.ContextItem{{
		Text:   content,
		URI:    uri,
		Source: types.SourceEditor,
	}}
}

func (e *Engine) cachedFusion(req Request) ([]types.ContextItem, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.get(req)
}

func (e *Engine) storeFusion(req Request, items []types.ContextItem) {
	if e.cache != nil {
		e.cache.put(req, items)
	}
}
