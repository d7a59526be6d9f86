package browser

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/obs"
)

// Screenshot writes a PNG of the current page to path, creating parent
// directories as needed, and returns the image bytes.
func (s *Session) Screenshot(ctx context.Context, path string, fullPage bool) ([]byte, error) {
	if path == "" {
		return nil, errs.New(errs.InvalidArgument, "screenshot path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, "create screenshot directory", err)
	}
	ms, err := s.waitBound(ctx)
	if err != nil {
		return nil, classify(err, errs.Internal, "screenshot "+path)
	}
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
		Timeout:  playwright.Float(ms),
	})
	if err != nil {
		return nil, classify(err, errs.Internal, "screenshot "+path)
	}
	obs.From(ctx).Info("screenshot_saved", "pkg", "browser", "path", path, "full_page", fullPage, "bytes", len(png))
	return png, nil
}

// Diagnostics is a best-effort snapshot of the page, taken when a run fails.
type Diagnostics struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html,omitempty"`
}

// diagnosticsBound caps each read Diagnostics makes of a page that may be stuck.
const diagnosticsBound = 5 * time.Second

// Diagnostics captures what the page looks like right now. Fields that cannot be
// read within the bound are left empty.
func (s *Session) Diagnostics() Diagnostics {
	ms := float64(min(s.timeout, diagnosticsBound).Milliseconds())
	d := Diagnostics{URL: s.page.URL()}
	if title, err := within(ms, s.page.Title); err == nil {
		d.Title = title
	}
	if html, err := within(ms, s.page.Content); err == nil {
		d.HTML = html
	}
	return d
}
