package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"pgregory.net/rapid"

	"github.com/kuitang/handover-verify/internal/browser/browsertest"
	"github.com/kuitang/handover-verify/internal/errs"
)

func newTestSession(t *testing.T, page *browsertest.Page, timeout time.Duration) *Session {
	t.Helper()
	s := NewSession(page, timeout)
	s.pollInterval = time.Millisecond
	return s
}

func TestSession_CloseRunsClosersOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	boom := errors.New("boom")
	s := NewSession(browsertest.NewPage(), time.Second,
		func() error { calls++; return nil },
		func() error { calls++; return boom },
	)

	for i := 0; i < 3; i++ {
		if err := s.Close(); !errors.Is(err, boom) {
			t.Fatalf("close %d: expected joined boom error, got %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("closers ran %d times, want 2", calls)
	}
}

func TestNewSession_AppliesDefaultTimeout(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	s := NewSession(page, 0)
	if s.Timeout() != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", s.Timeout(), DefaultTimeout)
	}
	if page.DefaultTimeout != float64(DefaultTimeout.Milliseconds()) {
		t.Fatalf("page default timeout = %v", page.DefaultTimeout)
	}
}

func testWaitBound_NeverExceedsTimeout(t *rapid.T) {
	timeout := time.Duration(rapid.IntRange(1, 60_000).Draw(t, "timeout_ms")) * time.Millisecond
	s := NewSession(browsertest.NewPage(), timeout)

	ms, err := s.waitBound(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms < 1 || ms > float64(timeout.Milliseconds()) {
		t.Fatalf("bound %.0fms outside (0, %v]", ms, timeout)
	}

	deadline := time.Duration(rapid.IntRange(1, 60_000).Draw(t, "deadline_ms")) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	ms, err = s.waitBound(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms > float64(deadline.Milliseconds()) {
		t.Fatalf("bound %.0fms exceeds ctx deadline %v", ms, deadline)
	}
}

func TestWaitBound_NeverExceedsTimeout(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testWaitBound_NeverExceedsTimeout)
}

func TestWaitBound_ExpiredContext(t *testing.T) {
	t.Parallel()
	s := NewSession(browsertest.NewPage(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.waitBound(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNavigate_PassesBoundAndWaitsForElement(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Add("css:h1", true)
	s := newTestSession(t, page, 2*time.Second)

	q := BySelector("h1")
	err := s.Navigate(context.Background(), "http://app.test/", NavigateOptions{WaitUntil: WaitNetworkIdle, WaitFor: &q})
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if page.URL() != "http://app.test/" {
		t.Fatalf("url = %q", page.URL())
	}
	if len(page.GotoTimeouts) != 1 || page.GotoTimeouts[0] > 2000 {
		t.Fatalf("goto timeouts = %v", page.GotoTimeouts)
	}
}

func TestNavigate_TimeoutIsNavigationTimeout(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.GotoErr = errors.New("Timeout 30000ms exceeded.")
	s := newTestSession(t, page, time.Second)

	err := s.Navigate(context.Background(), "http://app.test/", NavigateOptions{})
	if !errs.Is(err, errs.NavigationTimeout) {
		t.Fatalf("expected navigation_timeout, got %v", err)
	}
}

func TestNavigate_MissingReadyElementIsNavigationTimeout(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, browsertest.NewPage(), 50*time.Millisecond)
	q := BySelector("ul#all-todos-list li")
	err := s.Navigate(context.Background(), "http://app.test/", NavigateOptions{WaitFor: &q})
	if !errs.Is(err, errs.NavigationTimeout) {
		t.Fatalf("expected navigation_timeout, got %v", err)
	}
}

func TestNavigate_ConnectionRefusedIsUnavailable(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.GotoErr = errors.New("net::ERR_CONNECTION_REFUSED at http://127.0.0.1:8788/")
	s := newTestSession(t, page, time.Second)

	err := s.Navigate(context.Background(), "http://127.0.0.1:8788/", NavigateOptions{})
	if !errs.Is(err, errs.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNavigate_RefusedURLMentioningTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()
	target := "http://127.0.0.1:8788/Timeout/settings?view=Timeout"
	page := browsertest.NewPage()
	page.GotoErr = errors.New("net::ERR_CONNECTION_REFUSED at " + target)
	s := newTestSession(t, page, time.Second)

	err := s.Navigate(context.Background(), target, NavigateOptions{})
	if !errs.Is(err, errs.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{playwright.ErrTimeout, true},
		{context.DeadlineExceeded, true},
		{errors.New("Timeout 30000ms exceeded."), true},
		{errors.New("page.goto: Timeout 500ms exceeded.\nCall log:\n  - navigating to \"http://app.test/\""), true},
		{errors.New("net::ERR_CONNECTION_REFUSED at http://app.test/Timeout"), false},
		{errors.New("net::ERR_NAME_NOT_RESOLVED at http://Timeout.test/x: Timeout"), false},
		{nil, false},
	} {
		if got := isTimeout(tc.err); got != tc.want {
			t.Errorf("isTimeout(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestWaitForURL_TimeoutIsNavigationTimeout(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.WaitURLErr = playwright.ErrTimeout
	s := newTestSession(t, page, time.Second)
	if err := s.WaitForURL(context.Background(), "http://app.test/"); !errs.Is(err, errs.NavigationTimeout) {
		t.Fatalf("expected navigation_timeout, got %v", err)
	}
}

func TestFillAndClick(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	input := page.Add("placeholder:用户名", true)
	button := page.Add("role:button:登录", true)
	s := newTestSession(t, page, time.Second)
	ctx := context.Background()

	if err := s.Fill(ctx, ByPlaceholder("用户名"), "admin"); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if err := s.Click(ctx, ByRole("button", "登录")); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	if len(input.Filled) != 1 || input.Filled[0] != "admin" {
		t.Fatalf("filled = %v", input.Filled)
	}
	if button.Clicks != 1 {
		t.Fatalf("clicks = %d", button.Clicks)
	}
}

func TestClick_MissingElementIsElementNotFound(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, browsertest.NewPage(), 20*time.Millisecond)
	err := s.Click(context.Background(), ByRole("button", "最近删除 (20天内)"))
	if !errs.Is(err, errs.ElementNotFound) {
		t.Fatalf("expected element_not_found, got %v", err)
	}
}

func TestLocate_HiddenElementIsNotFound(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	modal := page.Add("css:#edit-todo-modal", false)
	s := newTestSession(t, page, 20*time.Millisecond)
	if _, err := s.Locate(context.Background(), BySelector("#edit-todo-modal")); !errs.Is(err, errs.ElementNotFound) {
		t.Fatalf("expected element_not_found, got %v", err)
	}
	if len(modal.WaitTimeouts) != 1 || modal.WaitTimeouts[0] < 1 || modal.WaitTimeouts[0] > 20 {
		t.Fatalf("wait must be bounded by the session timeout, got %v", modal.WaitTimeouts)
	}
}

func TestLocate_InvalidQuery(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, browsertest.NewPage(), time.Second)
	for _, q := range []Query{{}, {Role: "button", Selector: "button"}, {Name: "登录"}} {
		if _, err := s.Locate(context.Background(), q); !errs.Is(err, errs.InvalidArgument) {
			t.Fatalf("query %+v: expected invalid_argument, got %v", q, err)
		}
	}
}

func TestExpectVisibleAndHidden(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Add("css:h1", true)
	page.Add("css:#kept-items-list", false)
	s := newTestSession(t, page, 20*time.Millisecond)
	ctx := context.Background()

	if err := s.ExpectVisible(ctx, BySelector("h1")); err != nil {
		t.Fatalf("ExpectVisible: %v", err)
	}
	if err := s.ExpectHidden(ctx, BySelector("#kept-items-list")); err != nil {
		t.Fatalf("ExpectHidden: %v", err)
	}
	if err := s.ExpectVisible(ctx, BySelector("#kept-items-list")); !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed for hidden element, got %v", err)
	}
	if err := s.ExpectHidden(ctx, BySelector("h1")); !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed for visible element, got %v", err)
	}
}

func TestExpectText(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Add("text:Edited to-do", true)
	s := newTestSession(t, page, 20*time.Millisecond)

	if err := s.ExpectText(context.Background(), "Edited to-do"); err != nil {
		t.Fatalf("ExpectText: %v", err)
	}
	err := s.ExpectText(context.Background(), "这是一个用于样式验证的示例待办事项")
	if !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed, got %v", err)
	}
}

func TestExpectTitle_PollsUntilMatch(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Titles = []string{"", "加载中", "全局待办事项清单"}
	s := newTestSession(t, page, time.Second)

	if err := s.ExpectTitle(context.Background(), regexp.MustCompile("全局待办事项清单")); err != nil {
		t.Fatalf("ExpectTitle: %v", err)
	}
	if page.TitleCalls != 3 {
		t.Fatalf("title polled %d times, want 3", page.TitleCalls)
	}
}

func TestExpectTitle_MismatchReportsObserved(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Titles = []string{"Login"}
	s := newTestSession(t, page, 30*time.Millisecond)

	err := s.ExpectTitle(context.Background(), regexp.MustCompile("全局待办事项清单"))
	if !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed, got %v", err)
	}
	if msg := errs.MessageOf(err); !regexp.MustCompile(`got "Login"`).MatchString(msg) {
		t.Fatalf("message should carry the observed title: %q", msg)
	}
}

func TestScreenshot_CreatesDirectory(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.PNG = []byte("\x89PNG")
	s := newTestSession(t, page, time.Second)

	path := filepath.Join(t.TempDir(), "nested", "verification.png")
	png, err := s.Screenshot(context.Background(), path, true)
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if string(png) != "\x89PNG" {
		t.Fatalf("png bytes = %q", png)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if _, err := s.Screenshot(context.Background(), "", false); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected invalid_argument for empty path, got %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.CurrentURL = "http://app.test/login.html"
	page.Titles = []string{"登录"}
	page.HTML = "<html></html>"
	s := newTestSession(t, page, time.Second)

	d := s.Diagnostics()
	if d.URL != page.CurrentURL || d.Title != "登录" || d.HTML != "<html></html>" {
		t.Fatalf("diagnostics = %+v", d)
	}
}

func TestPause_HonoursCancellation(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, browsertest.NewPage(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Pause(ctx, time.Hour); err == nil {
		t.Fatal("expected error from cancelled pause")
	}
	if err := s.Pause(context.Background(), 0); err != nil {
		t.Fatalf("zero pause: %v", err)
	}
}

func testQuery_ValidateExactlyOneStrategy(t *rapid.T) {
	q := Query{}
	set := 0
	if rapid.Bool().Draw(t, "role") {
		q.Role = "button"
		set++
	}
	if rapid.Bool().Draw(t, "placeholder") {
		q.Placeholder = "输入新的待办事项..."
		set++
	}
	if rapid.Bool().Draw(t, "text") {
		q.Text = "折叠"
		set++
	}
	if rapid.Bool().Draw(t, "selector") {
		q.Selector = "h1"
		set++
	}
	err := q.Validate()
	if (set == 1) != (err == nil) {
		t.Fatalf("%d strategies set, Validate() = %v", set, err)
	}
}

func TestQuery_ValidateExactlyOneStrategy(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testQuery_ValidateExactlyOneStrategy)
}

func TestQuery_String(t *testing.T) {
	t.Parallel()
	q := ByRole("button", "编辑").In(BySelector("li:has-text('Edited to-do')")).FirstMatch()
	want := `css=li:has-text('Edited to-do') >> role=button[name="编辑"] >> nth=0`
	if q.String() != want {
		t.Fatalf("String() = %q, want %q", q.String(), want)
	}
}

func TestParseWaitUntil(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]WaitUntil{"": WaitDOMReady, "load": WaitLoad, "networkidle": WaitNetworkIdle} {
		got, err := ParseWaitUntil(in)
		if err != nil || got != want {
			t.Fatalf("ParseWaitUntil(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseWaitUntil("commit-ish"); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestExpectClass_PollsUntilClassAppears(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	summary := page.Add("css:summary:has-text('操作历史')", true)
	summary.Class = "text-sm"
	s := newTestSession(t, page, 30*time.Millisecond)
	q := BySelector("summary:has-text('操作历史')").FirstMatch()

	err := s.ExpectClass(context.Background(), q, regexp.MustCompile(`text-xs`))
	if !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed, got %v", err)
	}

	summary.Class = "cursor-pointer text-xs text-gray-500"
	if err := s.ExpectClass(context.Background(), q, regexp.MustCompile(`text-xs`)); err != nil {
		t.Fatalf("ExpectClass: %v", err)
	}
}

func TestLocate_WithinScopesToParent(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Add("css:li:has-text('My new test to-do')", true)
	edit := page.Add("css:li:has-text('My new test to-do') >> role:button:编辑", true)
	s := newTestSession(t, page, 20*time.Millisecond)

	q := ByRole("button", "编辑").In(BySelector("li:has-text('My new test to-do')"))
	if err := s.Click(context.Background(), q); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if edit.Clicks != 1 {
		t.Fatalf("scoped button clicks = %d", edit.Clicks)
	}
}

func TestIsVisible_DoesNotWait(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	toggle := page.Add("css:li[data-id] button", false)
	s := newTestSession(t, page, time.Second)

	visible, err := s.IsVisible(BySelector("li[data-id] button").FirstMatch())
	if err != nil || visible {
		t.Fatalf("IsVisible = %v, %v", visible, err)
	}
	if len(toggle.WaitTimeouts) != 0 {
		t.Fatal("IsVisible must not wait")
	}
	toggle.SetVisible(true)
	if visible, _ := s.IsVisible(BySelector("li[data-id] button").FirstMatch()); !visible {
		t.Fatal("expected visible toggle")
	}
}

func TestExpectClass_PassesWaitBoundToAttributeRead(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	summary := page.Add("css:summary", true)
	summary.Class = "text-xs"
	s := newTestSession(t, page, 800*time.Millisecond)

	if err := s.ExpectClass(context.Background(), BySelector("summary"), regexp.MustCompile(`text-xs`)); err != nil {
		t.Fatalf("ExpectClass: %v", err)
	}
	if len(summary.AttrTimeouts) != 1 || summary.AttrTimeouts[0] < 1 || summary.AttrTimeouts[0] > 800 {
		t.Fatalf("attribute read timeouts = %v", summary.AttrTimeouts)
	}
}

func TestExpectTitle_HungPageStaysWithinStepDeadline(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.Hang = make(chan struct{})
	t.Cleanup(func() { close(page.Hang) })
	s := newTestSession(t, page, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.ExpectTitle(ctx, regexp.MustCompile(`.`))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("ExpectTitle on a hung page took %s", elapsed)
	}
	if !errs.Is(err, errs.AssertionFailed) {
		t.Fatalf("expected assertion_failed, got %v", err)
	}
}

func TestDiagnostics_HungPageKeepsURL(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage()
	page.CurrentURL = "http://app.test/"
	page.Hang = make(chan struct{})
	t.Cleanup(func() { close(page.Hang) })
	s := newTestSession(t, page, 50*time.Millisecond)

	start := time.Now()
	d := s.Diagnostics()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Diagnostics on a hung page took %s", elapsed)
	}
	if d.URL != "http://app.test/" || d.Title != "" || d.HTML != "" {
		t.Fatalf("diagnostics = %+v", d)
	}
}
