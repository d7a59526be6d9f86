// Package browser runs the verification scripts in a real Playwright browser
// against a local fixture of the to-do application. Tests skip when Playwright
// or its browsers are not installed.
package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	vbrowser "github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/config"
	"github.com/kuitang/handover-verify/internal/verify"
)

const (
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second
)

var (
	probeOnce sync.Once
	probeErr  error
)

// requireBrowser skips the test unless a browser can be launched.
func requireBrowser(t *testing.T) {
	t.Helper()
	probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sess, err := vbrowser.Launch(ctx, launchOptions())
		if err != nil {
			probeErr = err
			return
		}
		probeErr = sess.Close()
	})
	if probeErr != nil {
		t.Skip("Playwright not available:", probeErr)
	}
}

func launchOptions() vbrowser.LaunchOptions {
	return vbrowser.LaunchOptions{Browser: "chromium", Headless: true, Timeout: browserMaxTimeout}
}

// harness is a runner pointed at a fixture app, collecting every result.
type harness struct {
	app        *FixtureApp
	runner     *verify.Runner
	resultsDir string

	mu      sync.Mutex
	results []*verify.Result
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	requireBrowser(t)
	h := &harness{app: NewFixtureApp(t), resultsDir: t.TempDir()}
	h.runner = h.runnerFor(h.app.URL, config.DefaultLoginPassword)
	return h
}

func (h *harness) runnerFor(baseURL, password string) *verify.Runner {
	return verify.NewRunner(verify.PlaywrightLauncher(launchOptions()), verify.Target{
		BaseURL:       baseURL,
		LoginUser:     config.DefaultLoginUser,
		LoginPassword: password,
		ResultsDir:    h.resultsDir,
	}, verify.SinkFunc(func(_ context.Context, res *verify.Result) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.results = append(h.results, res)
		return nil
	}))
}

// builtin returns the named built-in script.
func builtin(t *testing.T, name string) verify.Script {
	t.Helper()
	reg, err := verify.NewRegistry(verify.Builtins()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("no built-in script %q", name)
	}
	return s
}

// logFailure prints the result's diagnostics so a failing run can be read from the test log.
func logFailure(t *testing.T, res *verify.Result) {
	t.Helper()
	if res.Passed() {
		return
	}
	t.Logf("%s failed: %s: %s", res.Script, res.Code, res.Message)
	for _, st := range res.Steps {
		t.Logf("  %s: %s %s", st.Name, st.Status, st.Error)
	}
	if d := res.Diagnostics; d != nil {
		html := d.HTML
		if len(html) > 500 {
			html = html[:500] + "..."
		}
		t.Logf("Current URL: %s", d.URL)
		t.Logf("Current title: %s", d.Title)
		t.Logf("Content preview: %s", html)
	}
}
