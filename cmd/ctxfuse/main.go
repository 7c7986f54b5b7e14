package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjmcleod/ctxfuse/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "ctxfuse",
		Short: "Context retrieval and fusion engine for code assistants",
		Long: `ctxfuse indexes workspaces into a local SQLite index (BM25 full-text
plus vector embeddings) and serves fused context retrieval over the
Model Context Protocol.

Run with no arguments to start the MCP server on stdio.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to serving MCP on stdio
			return runServe(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "index database directory (default ~/.ctxfuse/indices)")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ctxfuse %s\n", version)
			fmt.Printf("  build time:       %s\n", buildTime)
			fmt.Printf("  build mode:       %s\n", storage.BuildMode)
			fmt.Printf("  sqlite driver:    %s\n", storage.DriverName)
			fmt.Printf("  vector extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
