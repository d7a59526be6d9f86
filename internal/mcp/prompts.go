package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const verifyWorkflowPromptName = "verify_workflow"

const verifyWorkflowText = "You can check the handover to-do application in a real browser. " +
	"Call list_scripts to see what can be verified, then run_script with a name. " +
	"A failed run returns an error code (navigation_timeout, element_not_found, assertion_failed, unavailable) " +
	"and the page URL, title and HTML at the moment of failure; read them before retrying. " +
	"Use list_runs with failed_only to see whether a failure is new."

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, verifyWorkflowPrompt)
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        verifyWorkflowPromptName,
			Title:       "Verify the to-do application",
			Description: "How to run verification scripts and read their results.",
		},
	}
}

func verifyWorkflowPrompt(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "How to run verification scripts and read their results.",
		Messages: []*mcp.PromptMessage{
			{
				Role:    mcp.Role("user"),
				Content: &mcp.TextContent{Text: verifyWorkflowText},
			},
		},
	}, nil
}
