package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rjmcleod/ctxfuse/internal/embedder"
	"github.com/rjmcleod/ctxfuse/internal/flags"
	"github.com/rjmcleod/ctxfuse/internal/fusion"
	"github.com/rjmcleod/ctxfuse/internal/ignore"
	"github.com/rjmcleod/ctxfuse/internal/indexer"
	"github.com/rjmcleod/ctxfuse/internal/priority"
	"github.com/rjmcleod/ctxfuse/internal/provider"
	"github.com/rjmcleod/ctxfuse/internal/storage"
	"go.uber.org/zap"
)

const (
	// ServerName is the MCP server name
	ServerName = "ctxfuse"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the index database
	DefaultDBPath = "~/.ctxfuse/indices"

	// DefaultBudget is the default character budget for retrieve_context
	DefaultBudget = 14000

	// Environment variables for the optional remote search provider
	EnvRemoteURL   = "CTXFUSE_REMOTE_URL"
	EnvRemoteToken = "CTXFUSE_REMOTE_TOKEN"

	// Feature flags served by the remote endpoint
	flagPrefix             = "context-"
	flagRemoteSearch       = "context-remote-search"
	flagDeterministicOrder = "context-deterministic-order"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	embedder embedder.Embedder
	matcher  *ignore.Matcher
	selector *priority.Selector
	logger   *zap.Logger

	remoteURL   string
	remoteToken string
	flags       *flags.Cache // nil without a remote endpoint
	unsubscribe func()

	mu      sync.Mutex
	engines map[string]*fusion.Engine // per workspace root
}

// NewServer creates a new MCP server instance. Logging goes to the supplied
// zap logger; stdout belongs to the MCP protocol.
func NewServer(dbPath string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dbPath == "" || dbPath == DefaultDBPath {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".ctxfuse", "indices")
	}
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dbFile := filepath.Join(dbPath, "ctxfuse.db")

	store, err := storage.NewSQLiteStorage(dbFile)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	matcher := ignore.NewMatcher(true, logger)
	idx := indexer.New(store, matcher, emb, logger)

	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion),
		storage:     store,
		indexer:     idx,
		embedder:    emb,
		matcher:     matcher,
		selector:    priority.NewSelector(logger),
		logger:      logger,
		remoteURL:   os.Getenv(EnvRemoteURL),
		remoteToken: os.Getenv(EnvRemoteToken),
		engines:     make(map[string]*fusion.Engine),
	}

	// Feature flags come from the same remote endpoint as remote search.
	// Engines capture flag values at construction, so a flag change drops
	// the engine map and lets the next query rebuild.
	if s.remoteURL != "" {
		s.flags = flags.NewCache(flags.NewHTTPClient(s.remoteToken),
			flags.SystemClock(), flags.TimerScheduler(), logger)
		s.unsubscribe = s.flags.OnChange(s.remoteURL, flagPrefix, func(map[string]bool) {
			s.mu.Lock()
			s.engines = make(map[string]*fusion.Engine)
			s.mu.Unlock()
		})
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.storage.Close() }()
	if s.unsubscribe != nil {
		defer s.unsubscribe()
	}
	if s.flags != nil {
		if err := s.flags.Refresh(ctx, s.remoteURL); err != nil {
			s.logger.Warn("initial feature flag fetch failed", zap.Error(err))
		}
	}
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(retrieveContextTool(), s.handleRetrieveContext)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

// engineFor returns the fusion engine for a workspace root, building its
// provider set on first use
func (s *Server) engineFor(rootPath string) *fusion.Engine {
	s.mu.Lock()
	if e, ok := s.engines[rootPath]; ok {
		s.mu.Unlock()
		return e
	}
	s.mu.Unlock()

	// Flags are read before retaking the engine lock; the flag cache invokes
	// its change callback under its own mutex and that callback takes s.mu
	remoteEnabled := s.flagEnabled(flagRemoteSearch, true)
	deterministic := s.flagEnabled(flagDeterministicOrder, false)

	trigger := provider.IndexTrigger(func(root string, hard bool) {
		go func() {
			_, err := s.indexer.IndexWorkspace(context.Background(), root, &indexer.Config{Hard: hard})
			if err != nil && err != indexer.ErrIndexInProgress {
				s.logger.Warn("background indexing failed",
					zap.String("root", root), zap.Error(err))
			}
		}()
	})

	embProvider := provider.NewEmbeddingsProvider(s.storage, s.embedder, rootPath, trigger, s.logger)
	keyword := []provider.Provider{
		provider.NewKeywordProvider(s.storage, rootPath, trigger, s.logger),
	}
	if s.remoteURL != "" && remoteEnabled {
		keyword = append(keyword, provider.NewRemoteProvider(s.remoteURL, s.remoteToken, nil, s.logger))
	}

	opts := []fusion.Option{fusion.WithCache(128)}
	if deterministic {
		opts = append(opts, fusion.WithDeterministicOrder())
	}

	e := fusion.NewEngine(embProvider, keyword, s.selector, s.logger, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.engines[rootPath]; ok {
		return existing
	}
	s.engines[rootPath] = e
	return e
}

// flagEnabled reads a cached feature flag, falling back to def when no flag
// endpoint is configured or the flag is unknown
func (s *Server) flagEnabled(flag string, def bool) bool {
	if s.flags == nil {
		return def
	}
	if v, ok := s.flags.Get(flag, s.remoteURL); ok {
		return v
	}
	return def
}
