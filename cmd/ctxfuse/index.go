package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rjmcleod/ctxfuse/internal/embedder"
	"github.com/rjmcleod/ctxfuse/internal/ignore"
	"github.com/rjmcleod/ctxfuse/internal/indexer"
	"github.com/rjmcleod/ctxfuse/internal/storage"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a workspace into the local database",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIndex,
	}
	cmd.Flags().Bool("hard", false, "drop existing documents and rebuild from scratch")
	cmd.Flags().Bool("skip-embeddings", false, "index text only, skip embedding computation")
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	root, err := resolveWorkspaceArg(args)
	if err != nil {
		return err
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

	matcher := ignore.NewMatcher(true, logger)
	if err := ignore.LoadRules(matcher, root); err != nil {
		logger.Warn("failed to load ignore rules", zap.String("root", root), zap.Error(err))
	}

	hard, _ := cmd.Flags().GetBool("hard")
	skipEmbeddings, _ := cmd.Flags().GetBool("skip-embeddings")

	idx := indexer.New(store, matcher, emb, logger)
	stats, err := idx.IndexWorkspace(cmd.Context(), root, &indexer.Config{
		Hard:           hard,
		SkipEmbeddings: skipEmbeddings,
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", root, err)
	}

	fmt.Printf("Indexed %s in %s\n", root, stats.Duration.Round(time.Millisecond))
	fmt.Printf("  files indexed:  %d\n", stats.FilesIndexed)
	fmt.Printf("  files skipped:  %d\n", stats.FilesSkipped)
	fmt.Printf("  files failed:   %d\n", stats.FilesFailed)
	fmt.Printf("  chunks created: %d\n", stats.ChunksCreated)
	for _, msg := range stats.ErrorMessages {
		fmt.Printf("  error: %s\n", msg)
	}
	return nil
}

// resolveWorkspaceArg turns the optional positional argument into an
// absolute workspace root, defaulting to the current directory
func resolveWorkspaceArg(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace path %s is not a directory", abs)
	}
	return abs, nil
}

// openStorage opens the index database honoring the --db flag
func openStorage(cmd *cobra.Command) (storage.Storage, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".ctxfuse", "indices")
	}
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return storage.NewSQLiteStorage(filepath.Join(dbPath, "ctxfuse.db"))
}
