package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	ToolListScripts = "list_scripts"
	ToolRunScript   = "run_script"
	ToolListRuns    = "list_runs"
)

// ToolDefinitions returns the verification tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolListScripts,
			Description: "List the verification scripts this runner knows: built-in scripts and loaded checklists, in registration order, with their descriptions and step names. Use the name with run_script.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolRunScript,
			Description: "Run one verification script against the configured target application in a fresh headless browser. Runs are serialized; a call waits for any run in progress. Returns the run result: status, error code and message on failure, per-step outcomes, screenshot paths and uploaded artifact URLs, and on failure the page URL, title and a truncated copy of the page HTML.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Script name as returned by list_scripts",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        ToolListRuns,
			Description: "List recorded verification runs, newest first. Optionally filter by a regular expression on the script name or to failed runs only.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum runs to return (default 20, max 500)",
						"minimum":     1,
					},
					"script_pattern": map[string]any{
						"type":        "string",
						"description": "Optional Go regular expression matched against script names",
					},
					"failed_only": map[string]any{
						"type":        "boolean",
						"description": "Only return failed runs",
					},
				},
			},
		},
	}
}
