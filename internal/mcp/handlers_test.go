package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"pgregory.net/rapid"

	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/history"
	"github.com/kuitang/handover-verify/internal/verify"
)

type fakeRunner struct {
	mu     sync.Mutex
	ran    []string
	result func(s verify.Script) *verify.Result
}

func (f *fakeRunner) Run(_ context.Context, s verify.Script) *verify.Result {
	f.mu.Lock()
	f.ran = append(f.ran, s.Name)
	f.mu.Unlock()
	if f.result != nil {
		return f.result(s)
	}
	return &verify.Result{RunID: "run-1", Script: s.Name, Status: verify.StatusPassed}
}

func newTestHandler(t *testing.T, runner ScriptRunner, runs RunLister) *Handler {
	t.Helper()
	reg, err := verify.NewRegistry(verify.Builtins()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewHandler(reg, runner, runs)
}

func toolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("missing tool result content: %#v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type: %T", result.Content[0])
	}
	return text.Text
}

func TestListScripts(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeRunner{}, nil)

	result, err := h.HandleToolCall(context.Background(), ToolListScripts, nil)
	if err != nil {
		t.Fatalf("list_scripts: %v", err)
	}
	var payload struct {
		Scripts []scriptInfo `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(toolResultText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Scripts) != 5 || payload.Scripts[0].Name != "changes" {
		t.Fatalf("unexpected scripts: %+v", payload.Scripts)
	}
	if payload.Scripts[0].Policy != "diagnose" || len(payload.Scripts[0].Steps) == 0 {
		t.Fatalf("changes script info: %+v", payload.Scripts[0])
	}
}

func TestRunScript_TruncatesPageHTML(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{result: func(s verify.Script) *verify.Result {
		return &verify.Result{
			RunID:       "run-2",
			Script:      s.Name,
			Status:      verify.StatusFailed,
			Code:        errs.AssertionFailed,
			Message:     "title: expected title to match",
			Diagnostics: &browser.Diagnostics{URL: "http://127.0.0.1:8788/", HTML: strings.Repeat("<p>x</p>", 5000)},
		}
	}}
	h := newTestHandler(t, runner, nil)

	result, err := h.HandleToolCall(context.Background(), ToolRunScript, map[string]any{"name": "features"})
	if err != nil {
		t.Fatalf("run_script: %v", err)
	}
	if !result.IsError {
		t.Fatal("failed run should be flagged as an error result")
	}
	var res verify.Result
	if err := json.Unmarshal([]byte(toolResultText(t, result)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Code != errs.AssertionFailed || res.Diagnostics == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len([]rune(res.Diagnostics.HTML)) > maxToolHTMLChars+20 {
		t.Fatalf("html not truncated: %d chars", len(res.Diagnostics.HTML))
	}
	if len(runner.ran) != 1 || runner.ran[0] != "features" {
		t.Fatalf("runner calls: %v", runner.ran)
	}
}

func TestRunScript_InvalidArguments(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	h := newTestHandler(t, runner, nil)

	for _, args := range []map[string]any{
		{},
		{"name": "nope"},
		{"name": "changes", "extra": true},
		{"name": 3},
	} {
		_, err := h.HandleToolCall(context.Background(), ToolRunScript, args)
		if errs.CodeOf(err) != errs.InvalidArgument {
			t.Fatalf("args %v: expected invalid_argument, got %v", args, err)
		}
	}
	if len(runner.ran) != 0 {
		t.Fatalf("runner should not run for invalid arguments: %v", runner.ran)
	}
}

func TestRunScript_Serialized(t *testing.T) {
	t.Parallel()
	var active, peak int
	var mu sync.Mutex
	runner := &fakeRunner{result: func(s verify.Script) *verify.Result {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &verify.Result{Script: s.Name, Status: verify.StatusPassed}
	}}
	h := newTestHandler(t, runner, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.HandleToolCall(context.Background(), ToolRunScript, map[string]any{"name": "ui-styles"})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected one run at a time, peak was %d", peak)
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	for i, status := range []verify.Status{verify.StatusPassed, verify.StatusFailed, verify.StatusFailed} {
		res := &verify.Result{
			RunID:     string(rune('a' + i)),
			Script:    "changes",
			Status:    status,
			StartedAt: time.Unix(int64(i), 0),
		}
		if err := store.Record(ctx, res); err != nil {
			t.Fatal(err)
		}
	}
	h := newTestHandler(t, &fakeRunner{}, store)

	result, err := h.HandleToolCall(ctx, ToolListRuns, map[string]any{"failed_only": true, "limit": 1})
	if err != nil {
		t.Fatalf("list_runs: %v", err)
	}
	var payload struct {
		Runs  []history.Run `json:"runs"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal([]byte(toolResultText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Count != 1 || payload.Runs[0].RunID != "c" {
		t.Fatalf("unexpected runs: %+v", payload)
	}

	if _, err := h.HandleToolCall(ctx, ToolListRuns, map[string]any{"script_pattern": "("}); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("bad pattern: expected invalid_argument, got %v", err)
	}
}

func TestListRuns_NoHistory(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeRunner{}, nil)
	_, err := h.HandleToolCall(context.Background(), ToolListRuns, nil)
	if errs.CodeOf(err) != errs.Unavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNewToolResultFromError_HidesUntypedErrors(t *testing.T) {
	t.Parallel()
	result := newToolResultFromError(errs.New(errs.InvalidArgument, "unknown script \"x\""))
	var payload toolErrorPayload
	if err := json.Unmarshal([]byte(toolResultText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if !result.IsError || payload.Code != errs.InvalidArgument {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	key := rapid.StringMatching(`[a-z_]{1,12}`).Filter(func(s string) bool { return s != "name" }).Draw(t, "key")
	var decoded struct {
		Name string `json:"name"`
	}
	err := decodeToolArgs(map[string]any{"name": "changes", key: "unexpected"}, &decoded)
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code for extra key %q: %v", key, err)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func TestDecodeToolArgs_NilMapBehavesAsEmptyObject(t *testing.T) {
	t.Parallel()
	var decoded struct {
		Limit int `json:"limit"`
	}
	if err := decodeToolArgs(nil, &decoded); err != nil || decoded.Limit != 0 {
		t.Fatalf("decodeToolArgs(nil) = %v, %+v", err, decoded)
	}
}
