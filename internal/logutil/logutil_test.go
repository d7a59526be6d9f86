package logutil

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestRedactFillValue_PasswordSelectors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		target string
		want   string
	}{
		{"#password", redacted},
		{"input[name='api_key']", redacted},
		{"#username", "admin"},
		{"placeholder=输入新的待办事项...", "admin"},
	}
	for _, tc := range cases {
		if got := RedactFillValue(tc.target, "admin"); got != tc.want {
			t.Fatalf("RedactFillValue(%q) = %q, want %q", tc.target, got, tc.want)
		}
	}
}

func TestRedactArgsForLog_NestedKeys(t *testing.T) {
	t.Parallel()
	out := RedactArgsForLog(map[string]any{
		"name": "features",
		"auth": map[string]any{"password": "112233", "user": "admin"},
		"list": []any{map[string]any{"token": "abc"}},
	})

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if strings.Contains(out, "112233") || strings.Contains(out, "abc") {
		t.Fatalf("secret leaked: %s", out)
	}
	if decoded["name"] != "features" {
		t.Fatalf("non-sensitive value lost: %s", out)
	}
}

func TestTruncateForLog_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.String().Draw(t, "value")
		limit := rapid.IntRange(1, 200).Draw(t, "limit")

		got := TruncateForLog(value, limit)
		if strings.Contains(got, "\n") {
			t.Fatalf("output must be single line: %q", got)
		}
		body := strings.TrimSuffix(got, "... [truncated]")
		if len(body) > limit {
			t.Fatalf("body longer than limit %d: %d", limit, len(body))
		}
		if utf8.ValidString(value) && !utf8.ValidString(got) {
			t.Fatalf("truncation split a rune: %q", got)
		}
	})
}
