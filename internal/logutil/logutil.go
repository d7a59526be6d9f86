package logutil

import (
	"encoding/json"
	"strings"
)

const redacted = "[REDACTED]"

// IsSensitiveLogField returns true when a key or selector likely refers to sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	case strings.Contains(normalized, "密码"):
		return true
	default:
		return false
	}
}

// RedactFillValue hides the text typed into a field whose locator looks sensitive.
func RedactFillValue(target, value string) string {
	if IsSensitiveLogField(target) {
		return redacted
	}
	return value
}

// RedactArgsForLog returns compact JSON for tool arguments with sensitive keys hidden.
func RedactArgsForLog(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	var redact func(v any) any
	redact = func(v any) any {
		switch typed := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(typed))
			for k, child := range typed {
				if IsSensitiveLogField(k) {
					out[k] = redacted
					continue
				}
				out[k] = redact(child)
			}
			return out
		case []any:
			out := make([]any, len(typed))
			for i, child := range typed {
				out[i] = redact(child)
			}
			return out
		default:
			return v
		}
	}

	safeJSON, err := json.Marshal(redact(args))
	if err != nil {
		return "{}"
	}
	return string(safeJSON)
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	cut := maxChars
	// keep multi-byte runes whole; page markup is mostly CJK here
	for cut > 0 && !utf8RuneStart(normalized[cut]) {
		cut--
	}
	return normalized[:cut] + "... [truncated]"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
