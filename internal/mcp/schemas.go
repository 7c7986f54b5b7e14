package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_workspace",
		Description: "Index a workspace so its files are available for context retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
				"hard": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, drop the existing index and rebuild from scratch",
					"default":     false,
				},
				"skip_embeddings": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, build the keyword index only, without vector embeddings",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// retrieveContextTool returns the tool definition for retrieve_context
func retrieveContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_context",
		Description: "Retrieve fused code context for a free-text query under a character budget",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text query describing the context needed",
				},
				"strategy": map[string]interface{}{
					"type":        "string",
					"description": "Retrieval strategy: auto (everything), embeddings, keyword, or none (editor content only)",
					"enum":        []string{"auto", "embeddings", "keyword", "none"},
					"default":     "auto",
				},
				"budget": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum total characters of search-derived context",
					"default":     DefaultBudget,
					"minimum":     0,
				},
				"editor_state": map[string]interface{}{
					"type":        "object",
					"description": "Current editor state, used for priority context",
					"properties": map[string]interface{}{
						"selection": map[string]interface{}{
							"type":        "object",
							"description": "Active text selection, if any",
							"properties": map[string]interface{}{
								"uri":        map[string]interface{}{"type": "string"},
								"content":    map[string]interface{}{"type": "string"},
								"start_line": map[string]interface{}{"type": "integer"},
								"end_line":   map[string]interface{}{"type": "integer"},
							},
						},
						"visible": map[string]interface{}{
							"type":        "object",
							"description": "Visible content of the active editor, if any",
							"properties": map[string]interface{}{
								"uri":     map[string]interface{}{"type": "string"},
								"content": map[string]interface{}{"type": "string"},
							},
						},
					},
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query index status and statistics for a workspace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
			},
			Required: []string{"path"},
		},
	}
}
