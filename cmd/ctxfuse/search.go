package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rjmcleod/ctxfuse/internal/embedder"
	"github.com/rjmcleod/ctxfuse/internal/fusion"
	"github.com/rjmcleod/ctxfuse/internal/mcp"
	"github.com/rjmcleod/ctxfuse/internal/provider"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a fused context query against an indexed workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	cmd.Flags().String("workspace", ".", "workspace root to query")
	cmd.Flags().String("strategy", "auto", "retrieval strategy: auto, embeddings, keyword, none")
	cmd.Flags().Int("budget", mcp.DefaultBudget, "maximum characters of search-derived context")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	query := args[0]

	workspace, _ := cmd.Flags().GetString("workspace")
	root, err := resolveWorkspaceArg([]string{workspace})
	if err != nil {
		return err
	}

	strategy, err := fusion.ParseStrategy(mustString(cmd, "strategy"))
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")
	if budget < 0 {
		return fmt.Errorf("budget must be non-negative, got %d", budget)
	}

	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}

	// The CLI queries an existing index; it never triggers indexing
	embProvider := provider.NewEmbeddingsProvider(store, emb, root, nil, logger)
	keyword := []provider.Provider{
		provider.NewKeywordProvider(store, root, nil, logger),
	}
	if remoteURL := os.Getenv(mcp.EnvRemoteURL); remoteURL != "" {
		keyword = append(keyword,
			provider.NewRemoteProvider(remoteURL, os.Getenv(mcp.EnvRemoteToken), nil, logger))
	}

	engine := fusion.NewEngine(embProvider, keyword, nil, logger)
	items := engine.Fuse(cmd.Context(), fusion.Request{
		Strategy: strategy,
		Query:    query,
		Budget:   budget,
	}, nil)

	if len(items) == 0 {
		fmt.Println("No results. Has this workspace been indexed?")
		return nil
	}

	total := 0
	for i, item := range items {
		header := item.URI
		if item.Path != "" {
			header = item.Path
		}
		if item.StartLine > 0 {
			header = fmt.Sprintf("%s:%d-%d", header, item.StartLine, item.EndLine)
		}
		fmt.Printf("--- [%d] %s (%s)\n", i+1, header, item.Source)
		fmt.Println(strings.TrimRight(item.Text, "\n"))
		total += item.Len()
	}
	fmt.Printf("\n%d items, %d chars (budget %d)\n", len(items), total, budget)
	return nil
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
