// Package report writes a human-readable summary of a batch of verification runs:
// report.md in the results directory, and report.html rendered from it.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/handover-verify/internal/verify"
)

const (
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// Meta describes the batch a report covers.
type Meta struct {
	BaseURL     string
	GeneratedAt time.Time
}

// Markdown renders results as a markdown document. Failed runs get a section
// with their error and the full page content captured at failure time.
func Markdown(results []*verify.Result, meta Meta) string {
	var b strings.Builder
	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}

	fmt.Fprintf(&b, "# Verification report\n\n")
	fmt.Fprintf(&b, "Target: `%s`  \nGenerated: %s  \nPassed: %d of %d\n\n",
		meta.BaseURL, meta.GeneratedAt.UTC().Format(time.RFC3339), passed, len(results))

	if len(results) == 0 {
		b.WriteString("No scripts were run.\n")
		return b.String()
	}

	b.WriteString("| Script | Status | Code | Duration | Screenshots | Run ID |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range results {
		code := string(r.Code)
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | `%s` |\n",
			cell(r.Script), statusLabel(r), code, r.Duration.Round(time.Millisecond), cell(shotLinks(r)), r.RunID)
	}

	for _, r := range results {
		if r.Passed() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s failed\n\n", r.Script)
		fmt.Fprintf(&b, "**%s**: %s\n\n", r.Code, r.Message)

		b.WriteString("Steps:\n\n")
		for i, s := range r.Steps {
			line := fmt.Sprintf("%d. %s: %s", i+1, s.Name, s.Status)
			if s.Error != "" {
				line += " (" + s.Error + ")"
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")

		if r.ErrorShot != "" {
			fmt.Fprintf(&b, "Error screenshot: `%s`\n\n", r.ErrorShot)
		}
		if d := r.Diagnostics; d != nil {
			fmt.Fprintf(&b, "Page at failure: `%s` (title %q)\n\n", d.URL, d.Title)
			if d.HTML != "" {
				fence := codeFence(d.HTML)
				fmt.Fprintf(&b, "%shtml\n%s\n%s\n", fence, strings.TrimRight(d.HTML, "\n"), fence)
			}
		}
	}
	return b.String()
}

// HTML renders markdown into a sanitized, standalone HTML page.
func HTML(md string, title string) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	doc := parser.NewWithExtensions(extensions).Parse([]byte(md))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	rendered := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code", "table", "thead", "tbody", "tr", "th", "td")
	policy.AllowAttrs("class").OnElements("code", "pre")
	sanitized := policy.SanitizeBytes(rendered)

	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title   string
		Content template.HTML
	}{Title: title, Content: template.HTML(sanitized)})
	if err != nil {
		return []byte("<!DOCTYPE html><html><head><title>Error</title></head><body><h1>Error rendering report</h1></body></html>")
	}
	return buf.Bytes()
}

// Write renders the report into dir and returns the paths written.
func Write(dir string, results []*verify.Result, meta Meta) (mdPath, htmlPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("report: create %s: %w", dir, err)
	}
	md := Markdown(results, meta)

	mdPath = filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return "", "", fmt.Errorf("report: write %s: %w", mdPath, err)
	}
	htmlPath = filepath.Join(dir, HTMLFile)
	if err := os.WriteFile(htmlPath, HTML(md, "Verification report"), 0o644); err != nil {
		return "", "", fmt.Errorf("report: write %s: %w", htmlPath, err)
	}
	return mdPath, htmlPath, nil
}

func statusLabel(r *verify.Result) string {
	if r.Passed() {
		return "✅ passed"
	}
	return "❌ failed"
}

func shotLinks(r *verify.Result) string {
	if len(r.Artifacts) > 0 {
		links := make([]string, 0, len(r.Artifacts))
		for _, url := range r.Artifacts {
			links = append(links, fmt.Sprintf("[%s](%s)", filepath.Base(url), url))
		}
		return strings.Join(links, ", ")
	}
	names := make([]string, 0, len(r.Screenshots))
	for _, s := range r.Screenshots {
		names = append(names, filepath.Base(s))
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// codeFence returns a backtick fence longer than any backtick run in content.
func codeFence(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.5; max-width: 960px; margin: 0 auto; padding: 2rem 1rem; color: #1a1a1a; }
        table { border-collapse: collapse; width: 100%; margin: 1em 0; }
        th, td { border: 1px solid #e0e0e0; padding: 0.4em 0.6em; text-align: left; }
        th { background: #f5f5f5; }
        pre { background: #f5f5f5; padding: 1rem; border-radius: 6px; overflow-x: auto; max-height: 30rem; }
        code { font-family: 'SF Mono', Monaco, Consolas, monospace; font-size: 0.9em; }
    </style>
</head>
<body>
    <article>
        {{.Content}}
    </article>
</body>
</html>`))
