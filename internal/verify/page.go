package verify

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/urlutil"
)

// Target describes the application under test and where run output goes.
type Target struct {
	BaseURL       string
	LoginUser     string
	LoginPassword string
	ResultsDir    string
}

// Page is what a step sees: the browser session plus the run's target.
type Page struct {
	*browser.Session

	target Target
	result *Result
}

// URL resolves path against the target base URL. Absolute URLs pass through.
func (p *Page) URL(path string) string {
	return urlutil.Join(p.target.BaseURL, path)
}

// Shot saves a screenshot under the results directory and records it on the run.
func (p *Page) Shot(ctx context.Context, shot Shot) error {
	path := p.resultsPath(shot.Path)
	if _, err := p.Screenshot(ctx, path, shot.FullPage); err != nil {
		return err
	}
	p.result.Screenshots = append(p.result.Screenshots, path)
	return nil
}

func (p *Page) resultsPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.target.ResultsDir, name)
}

// Expand fills in the {{login_user}}, {{login_password}} and {{base_url}}
// placeholders checklist values may carry.
func (p *Page) Expand(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return strings.NewReplacer(
		"{{login_user}}", p.target.LoginUser,
		"{{login_password}}", p.target.LoginPassword,
		"{{base_url}}", urlutil.TrimBase(p.target.BaseURL),
	).Replace(s)
}
