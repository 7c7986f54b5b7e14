package mcp

import (
	"path/filepath"

	"github.com/rjmcleod/ctxfuse/internal/priority"
)

// argEditor adapts the editor_state tool argument to the priority.Editor
// interface. MCP clients are editors at arm's length; they describe their
// state in the request instead of being queried live.
type argEditor struct {
	rootURI   string
	selection *priority.Selection
	visURI    string
	visText   string
	hasVis    bool
}

func newArgEditor(rootPath string, state map[string]interface{}) *argEditor {
	ed := &argEditor{
		rootURI: "file://" + filepath.ToSlash(rootPath),
	}
	if state == nil {
		return ed
	}

	if sel, ok := state["selection"].(map[string]interface{}); ok {
		content, _ := sel["content"].(string)
		if content != "" {
			uri, _ := sel["uri"].(string)
			ed.selection = &priority.Selection{
				URI:       uri,
				Content:   content,
				StartLine: getIntDefault(sel, "start_line", 0),
				EndLine:   getIntDefault(sel, "end_line", 0),
			}
		}
	}

	if vis, ok := state["visible"].(map[string]interface{}); ok {
		content, _ := vis["content"].(string)
		if content != "" {
			ed.visURI, _ = vis["uri"].(string)
			ed.visText = content
			ed.hasVis = true
		}
	}

	return ed
}

func (e *argEditor) WorkspaceRootURI() string { return e.rootURI }

func (e *argEditor) ActiveSelection() *priority.Selection { return e.selection }

func (e *argEditor) VisibleContent() (string, string, bool) {
	return e.visURI, e.visText, e.hasVis
}
