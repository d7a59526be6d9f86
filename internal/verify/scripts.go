package verify

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/kuitang/handover-verify/internal/browser"
)

// Strings the target application renders. The scripts fail if any of them change.
const (
	appTitle            = "全局待办事项清单"
	newTodoPlaceholder  = "输入新的待办事项..."
	addTodoButton       = "添加事项"
	itemNamePlaceholder = "物品名称..."
	addItemButton       = "添加交接物品"
	editButton          = "编辑"
	progressPlaceholder = "添加进度更新..."
	addProgressButton   = "添加更新"
	collapseButton      = "折叠"
	keptItemsToggle     = "当前交接物品"

	featuresTodo     = "My new test to-do"
	featuresItem     = "My new test item"
	featuresEdited   = "Edited to-do"
	featuresProgress = "This is a progress update."
	stylesSampleTodo = "这是一个用于样式验证的示例待办事项"

	animationPause = 500 * time.Millisecond
)

// Builtins returns the built-in scripts in their canonical order.
func Builtins() []Script {
	return []Script{
		changesScript(),
		featuresScript(),
		optimizationsScript(),
		uiOptimizationsScript(),
		uiStylesScript(),
	}
}

func hasText(tag, text string) browser.Query {
	return browser.BySelector(fmt.Sprintf("%s:has-text('%s')", tag, text))
}

func fill(q browser.Query, value string) func(context.Context, *Page) error {
	return func(ctx context.Context, p *Page) error { return p.Fill(ctx, q, p.Expand(value)) }
}

func click(q browser.Query) func(context.Context, *Page) error {
	return func(ctx context.Context, p *Page) error { return p.Click(ctx, q) }
}

func expectVisible(q browser.Query) func(context.Context, *Page) error {
	return func(ctx context.Context, p *Page) error { return p.ExpectVisible(ctx, q) }
}

func expectText(text string) func(context.Context, *Page) error {
	return func(ctx context.Context, p *Page) error { return p.ExpectText(ctx, text) }
}

func screenshot(path string, fullPage bool) func(context.Context, *Page) error {
	return func(ctx context.Context, p *Page) error { return p.Shot(ctx, Shot{Path: path, FullPage: fullPage}) }
}

func visible(q browser.Query) func(context.Context, *Page) (bool, error) {
	return func(_ context.Context, p *Page) (bool, error) { return p.IsVisible(q) }
}

// changes logs in, checks the operation history summary is rendered small and
// opens the recently deleted section.
func changesScript() Script {
	return Script{
		Name:        "changes",
		Description: "Log in, check the operation history styling and expand recently deleted items",
		Policy:      PolicyDiagnose,
		Steps: []Step{
			{Name: "open login page", Do: func(ctx context.Context, p *Page) error {
				return p.Navigate(ctx, p.URL("/login.html"), browser.NavigateOptions{WaitUntil: browser.WaitDOMReady})
			}},
			{Name: "fill username", Do: fill(browser.BySelector("#username"), "{{login_user}}")},
			{Name: "fill password", Do: fill(browser.BySelector("#password"), "{{login_password}}")},
			{Name: "submit login", Do: click(browser.BySelector(`button[type="submit"]`))},
			{Name: "wait for home", Do: func(ctx context.Context, p *Page) error {
				return p.WaitForURL(ctx, p.URL("/"))
			}},
			{Name: "operation history summary is small", Do: func(ctx context.Context, p *Page) error {
				return p.ExpectClass(ctx, hasText("summary", "操作历史").FirstMatch(), regexp.MustCompile(`text-xs`))
			}},
			{Name: "expand recently deleted", Do: click(hasText("button", "最近删除 (20天内)"))},
			{Name: "screenshot", Do: screenshot("verification.png", false)},
		},
	}
}

// features walks the create, edit, progress and collapse flows.
func featuresScript() Script {
	todo := hasText("li", featuresTodo)
	edited := hasText("li", featuresEdited)
	return Script{
		Name:        "features",
		Description: "Add a to-do and a handover item, edit the to-do, add progress, collapse the kept items list",
		Policy:      PolicyAbort,
		Steps: []Step{
			{Name: "open app", Do: func(ctx context.Context, p *Page) error {
				return p.Navigate(ctx, p.URL("/"), browser.NavigateOptions{WaitUntil: browser.WaitLoad})
			}},
			{Name: "title", Do: func(ctx context.Context, p *Page) error {
				return p.ExpectTitle(ctx, regexp.MustCompile(regexp.QuoteMeta(appTitle)))
			}},
			{Name: "fill new to-do", Do: fill(browser.ByPlaceholder(newTodoPlaceholder), featuresTodo)},
			{Name: "add to-do", Do: click(browser.ByRole("button", addTodoButton))},
			{Name: "to-do listed", Do: expectVisible(todo)},
			{Name: "fill item name", Do: fill(browser.ByPlaceholder(itemNamePlaceholder), featuresItem)},
			{Name: "add item", Do: click(browser.ByRole("button", addItemButton))},
			{Name: "item listed", Do: expectVisible(hasText("li", featuresItem))},
			{Name: "open edit dialog", Do: click(browser.ByRole("button", editButton).In(todo))},
			{Name: "fill edited text", Do: fill(browser.BySelector("#edit-todo-modal input[type='text']"), featuresEdited)},
			{Name: "save edit", Do: click(browser.BySelector("#edit-todo-modal button[type='submit']"))},
			{Name: "edit applied", Do: expectText(featuresEdited)},
			{Name: "fill progress update", Do: fill(browser.ByPlaceholder(progressPlaceholder).In(edited), featuresProgress)},
			{Name: "add progress update", Do: click(browser.ByRole("button", addProgressButton).In(edited))},
			{Name: "progress listed", Do: expectText(featuresProgress)},
			{Name: "collapse kept items", Do: click(browser.ByRole("button", collapseButton))},
			{Name: "kept items hidden", Do: func(ctx context.Context, p *Page) error {
				return p.ExpectHidden(ctx, browser.BySelector("#kept-items-list"))
			}},
			{Name: "screenshot", Do: screenshot("verification.png", false)},
		},
	}
}

// optimizations captures the list before and after expanding its collapsible parts.
// Missing toggles are skipped rather than failed.
func optimizationsScript() Script {
	firstToggle := browser.BySelector("li[data-id] button").FirstMatch()
	keptToggle := browser.ByText(keptItemsToggle).FirstMatch()
	return Script{
		Name:        "optimizations",
		Description: "Screenshot the initial list, an expanded to-do and the expanded kept items",
		Policy:      PolicyAbort,
		Steps: []Step{
			{Name: "open app", Do: func(ctx context.Context, p *Page) error {
				ready := browser.BySelector("ul#all-todos-list li").FirstMatch()
				return p.Navigate(ctx, p.URL("/"), browser.NavigateOptions{WaitUntil: browser.WaitNetworkIdle, WaitFor: &ready})
			}},
			{Name: "screenshot initial load", Do: screenshot("01_initial_load.png", false)},
			{Name: "expand first to-do", When: visible(firstToggle), Do: func(ctx context.Context, p *Page) error {
				if err := p.Click(ctx, firstToggle); err != nil {
					return err
				}
				if err := p.Pause(ctx, animationPause); err != nil {
					return err
				}
				return p.Shot(ctx, Shot{Path: "02_todo_expanded.png"})
			}},
			{Name: "expand kept items", When: visible(keptToggle), Do: func(ctx context.Context, p *Page) error {
				if err := p.Click(ctx, keptToggle); err != nil {
					return err
				}
				if err := p.Pause(ctx, animationPause); err != nil {
					return err
				}
				return p.Shot(ctx, Shot{Path: "03_kept_items_expanded.png"})
			}},
		},
	}
}

func uiOptimizationsScript() Script {
	return Script{
		Name:        "ui-optimizations",
		Description: "Load the app once the network is idle and screenshot it",
		Policy:      PolicyDiagnose,
		ErrorShot:   &Shot{Path: "verification_error.png"},
		Steps: []Step{
			{Name: "open app", Do: func(ctx context.Context, p *Page) error {
				return p.Navigate(ctx, p.URL("/"), browser.NavigateOptions{WaitUntil: browser.WaitNetworkIdle})
			}},
			{Name: "wait for heading", Timeout: 15 * time.Second, Do: func(ctx context.Context, p *Page) error {
				_, err := p.Locate(ctx, browser.BySelector("h1"))
				return err
			}},
			{Name: "screenshot", Do: screenshot("verification.png", false)},
		},
	}
}

func uiStylesScript() Script {
	return Script{
		Name:        "ui-styles",
		Description: "Add a sample to-do and take a full-page screenshot for style review",
		Policy:      PolicyDiagnose,
		ErrorShot:   &Shot{Path: "error.png", FullPage: true},
		Steps: []Step{
			{Name: "open app", Timeout: 90 * time.Second, Do: func(ctx context.Context, p *Page) error {
				return p.Navigate(ctx, p.URL("/"), browser.NavigateOptions{WaitUntil: browser.WaitLoad})
			}},
			{Name: "heading visible", Timeout: 20 * time.Second, Do: expectVisible(browser.ByRole("heading", appTitle))},
			{Name: "fill sample to-do", Do: fill(browser.ByPlaceholder(newTodoPlaceholder), stylesSampleTodo)},
			{Name: "add sample to-do", Do: click(browser.ByRole("button", addTodoButton))},
			{Name: "sample to-do listed", Timeout: 10 * time.Second, Do: expectText(stylesSampleTodo)},
			{Name: "screenshot", Do: screenshot("verification.png", true)},
		},
	}
}
