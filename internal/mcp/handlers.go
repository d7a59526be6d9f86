package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/history"
	"github.com/kuitang/handover-verify/internal/logutil"
	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/verify"
)

// maxToolHTMLChars bounds the page HTML echoed back in run_script results.
const maxToolHTMLChars = 8000

// ScriptRunner runs one script. *verify.Runner satisfies it.
type ScriptRunner interface {
	Run(ctx context.Context, s verify.Script) *verify.Result
}

// RunLister reads run history. *history.Store satisfies it.
type RunLister interface {
	List(ctx context.Context, f history.Filter) ([]history.Run, error)
}

// Handler implements MCP tool call handling.
type Handler struct {
	registry *verify.Registry
	runner   ScriptRunner
	runs     RunLister

	// one browser at a time
	runMu sync.Mutex
}

// NewHandler creates a handler. runs may be nil, in which case list_runs reports
// that history is unavailable.
func NewHandler(registry *verify.Registry, runner ScriptRunner, runs RunLister) *Handler {
	return &Handler{registry: registry, runner: runner, runs: runs}
}

func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		log := obs.From(ctx).With("pkg", "mcp", "tool", name)
		log.Info("tool_call", "args", logutil.RedactArgsForLog(args))

		result, err := h.HandleToolCall(ctx, name, args)
		if err != nil {
			log.Warn("tool_call_failed", "code", errs.CodeOf(err), "error", err)
			return newToolResultFromError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes tool calls to the matching handler.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ToolListScripts:
		return h.handleListScripts(arguments)
	case ToolRunScript:
		return h.handleRunScript(ctx, arguments)
	case ToolListRuns:
		return h.handleListRuns(ctx, arguments)
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown tool: %s", name))
	}
}

type scriptInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Policy      string   `json:"policy"`
	Steps       []string `json:"steps"`
}

func (h *Handler) handleListScripts(args map[string]any) (*mcp.CallToolResult, error) {
	var in struct{}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}

	scripts := h.registry.List()
	out := make([]scriptInfo, 0, len(scripts))
	for _, s := range scripts {
		info := scriptInfo{
			Name:        s.Name,
			Description: s.Description,
			Policy:      string(s.Policy),
			Steps:       make([]string, 0, len(s.Steps)),
		}
		if info.Policy == "" {
			info.Policy = string(verify.PolicyAbort)
		}
		for _, st := range s.Steps {
			info.Steps = append(info.Steps, st.Name)
		}
		out = append(out, info)
	}
	return newToolResultText(marshalToolJSON(map[string]any{"scripts": out})), nil
}

func (h *Handler) handleRunScript(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, errs.New(errs.InvalidArgument, "name is required")
	}
	selected, err := h.registry.Select([]string{in.Name})
	if err != nil {
		return nil, err
	}

	h.runMu.Lock()
	res := h.runner.Run(ctx, selected[0])
	h.runMu.Unlock()

	out := *res
	if res.Diagnostics != nil {
		d := *res.Diagnostics
		d.HTML = logutil.TruncateForLog(d.HTML, maxToolHTMLChars)
		out.Diagnostics = &d
	}
	result := newToolResultText(marshalToolJSON(&out))
	// a failed run is still a successful tool call; the flag tells the model to read it
	result.IsError = !res.Passed()
	return result, nil
}

func (h *Handler) handleListRuns(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Limit         int    `json:"limit"`
		ScriptPattern string `json:"script_pattern"`
		FailedOnly    bool   `json:"failed_only"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, errs.New(errs.InvalidArgument, "limit must be positive")
	}
	if in.ScriptPattern != "" {
		if _, err := regexp.Compile(in.ScriptPattern); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("script_pattern: %v", err), err)
		}
	}
	if h.runs == nil {
		return nil, errs.New(errs.Unavailable, "run history is not enabled")
	}

	runs, err := h.runs.List(ctx, history.Filter{
		Limit:         in.Limit,
		ScriptPattern: in.ScriptPattern,
		FailedOnly:    in.FailedOnly,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list runs failed", err)
	}
	return newToolResultText(marshalToolJSON(map[string]any{"runs": runs, "count": len(runs)})), nil
}

// decodeToolArgs converts loosely typed tool arguments into a struct, rejecting
// unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid arguments", err)
	}
	return nil
}

type toolErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func newToolResultFromError(err error) *mcp.CallToolResult {
	payload := toolErrorPayload{Code: errs.CodeOf(err), Message: errs.MessageOf(err)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
