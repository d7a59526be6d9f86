// Package browsertest provides an in-memory stand-in for a Playwright page so
// session and runner logic can be tested without a browser.
//
// Elements are registered under keys that mirror how the session builds locators:
//
//	role:<role>:<name>     GetByRole
//	placeholder:<text>     GetByPlaceholder
//	text:<text>            GetByText
//	css:<selector>         Locator
//
// Scoped lookups join the parent and child keys with " >> ".
package browsertest

import (
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Page implements the parts of playwright.Page a session uses. Calling anything
// else panics through the nil embedded interface.
type Page struct {
	playwright.Page

	mu       sync.Mutex
	elements map[string]*Locator

	CurrentURL string
	// Titles are returned by successive Title calls; the last one repeats.
	Titles     []string
	TitleCalls int
	HTML       string
	PNG        []byte

	GotoErr       error
	WaitURLErr    error
	ScreenshotErr error
	// Hang, when set, blocks Title and Content until it is closed.
	Hang chan struct{}
	// OnGoto runs after a successful navigation, e.g. to reveal elements.
	OnGoto func(url string)

	GotoTimeouts   []float64
	Screenshots    []string
	DefaultTimeout float64
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{CurrentURL: "about:blank", elements: map[string]*Locator{}, PNG: []byte("\x89PNG\r\n\x1a\n")}
}

// Add registers an element under key.
func (p *Page) Add(key string, visible bool) *Locator {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := &Locator{page: p, Key: key, visible: visible}
	p.elements[key] = l
	return l
}

// Element returns the element registered under key, or nil.
func (p *Page) Element(key string) *Locator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[key]
}

func (p *Page) lookup(key string) playwright.Locator {
	if l := p.Element(key); l != nil {
		return l
	}
	return &Locator{page: p, Key: key}
}

func (p *Page) SetDefaultTimeout(timeout float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DefaultTimeout = timeout
}

func (p *Page) SetDefaultNavigationTimeout(timeout float64) {}

func (p *Page) Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	if len(options) > 0 && options[0].Timeout != nil {
		p.GotoTimeouts = append(p.GotoTimeouts, *options[0].Timeout)
	}
	if p.GotoErr != nil {
		err := p.GotoErr
		p.mu.Unlock()
		return nil, err
	}
	p.CurrentURL = url
	hook := p.OnGoto
	p.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return nil, nil
}

func (p *Page) WaitForURL(url interface{}, options ...playwright.PageWaitForURLOptions) error {
	return p.WaitURLErr
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) Title() (string, error) {
	p.hang()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TitleCalls++
	if len(p.Titles) == 0 {
		return "", nil
	}
	i := min(p.TitleCalls-1, len(p.Titles)-1)
	return p.Titles[i], nil
}

func (p *Page) Content() (string, error) {
	p.hang()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) hang() {
	p.mu.Lock()
	ch := p.Hang
	p.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (p *Page) Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	if len(options) > 0 && options[0].Path != nil {
		p.Screenshots = append(p.Screenshots, *options[0].Path)
	}
	return p.PNG, nil
}

func (p *Page) GetByRole(role playwright.AriaRole, options ...playwright.PageGetByRoleOptions) playwright.Locator {
	name := ""
	if len(options) > 0 && options[0].Name != nil {
		name = fmt.Sprint(options[0].Name)
	}
	return p.lookup(fmt.Sprintf("role:%s:%s", role, name))
}

func (p *Page) GetByPlaceholder(text interface{}, options ...playwright.PageGetByPlaceholderOptions) playwright.Locator {
	return p.lookup(fmt.Sprintf("placeholder:%v", text))
}

func (p *Page) GetByText(text interface{}, options ...playwright.PageGetByTextOptions) playwright.Locator {
	return p.lookup(fmt.Sprintf("text:%v", text))
}

func (p *Page) Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator {
	return p.lookup("css:" + selector)
}

// Locator is a fake element: visible or not. Waits succeed at once or time out.
type Locator struct {
	playwright.Locator

	page    *Page
	Key     string
	visible bool

	// Class is returned for the class attribute.
	Class string
	// OnClick runs after each click, e.g. to show or hide other elements.
	OnClick func()

	Filled       []string
	Clicks       int
	WaitTimeouts []float64
	AttrTimeouts []float64
}

// SetVisible changes the element's visibility.
func (l *Locator) SetVisible(v bool) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.visible = v
}

func (l *Locator) isVisible() bool {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return l.visible
}

func (l *Locator) First() playwright.Locator { return l }

func (l *Locator) WaitFor(options ...playwright.LocatorWaitForOptions) error {
	want := playwright.WaitForSelectorStateVisible
	var timeout float64
	if len(options) > 0 {
		if options[0].State != nil {
			want = options[0].State
		}
		if options[0].Timeout != nil {
			timeout = *options[0].Timeout
		}
	}
	l.page.mu.Lock()
	l.WaitTimeouts = append(l.WaitTimeouts, timeout)
	l.page.mu.Unlock()

	if l.isVisible() == (*want == *playwright.WaitForSelectorStateVisible) {
		return nil
	}
	return fmt.Errorf("%w: Timeout %.0fms exceeded waiting for %s", playwright.ErrTimeout, timeout, l.Key)
}

func (l *Locator) IsVisible(options ...playwright.LocatorIsVisibleOptions) (bool, error) {
	return l.isVisible(), nil
}

func (l *Locator) GetAttribute(name string, options ...playwright.LocatorGetAttributeOptions) (string, error) {
	if len(options) > 0 && options[0].Timeout != nil {
		l.page.mu.Lock()
		l.AttrTimeouts = append(l.AttrTimeouts, *options[0].Timeout)
		l.page.mu.Unlock()
	}
	if name != "class" {
		return "", nil
	}
	return l.Class, nil
}

func (l *Locator) Fill(value string, options ...playwright.LocatorFillOptions) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.Filled = append(l.Filled, value)
	return nil
}

func (l *Locator) Click(options ...playwright.LocatorClickOptions) error {
	l.page.mu.Lock()
	l.Clicks++
	hook := l.OnClick
	l.page.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (l *Locator) GetByRole(role playwright.AriaRole, options ...playwright.LocatorGetByRoleOptions) playwright.Locator {
	name := ""
	if len(options) > 0 && options[0].Name != nil {
		name = fmt.Sprint(options[0].Name)
	}
	return l.page.lookup(fmt.Sprintf("%s >> role:%s:%s", l.Key, role, name))
}

func (l *Locator) GetByPlaceholder(text interface{}, options ...playwright.LocatorGetByPlaceholderOptions) playwright.Locator {
	return l.page.lookup(fmt.Sprintf("%s >> placeholder:%v", l.Key, text))
}

func (l *Locator) GetByText(text interface{}, options ...playwright.LocatorGetByTextOptions) playwright.Locator {
	return l.page.lookup(fmt.Sprintf("%s >> text:%v", l.Key, text))
}
