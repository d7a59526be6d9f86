package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/handover-verify/internal/errs"
)

// Query describes how to find an element. Exactly one of Role, Placeholder,
// Text or Selector is set; Name narrows a role query by accessible name.
type Query struct {
	Role        string
	Name        string
	Placeholder string
	Text        string
	Selector    string

	Within *Query
	First  bool
}

func ByRole(role, name string) Query { return Query{Role: role, Name: name} }

func ByPlaceholder(text string) Query { return Query{Placeholder: text} }

func ByText(text string) Query { return Query{Text: text} }

func BySelector(selector string) Query { return Query{Selector: selector} }

// In scopes q to matches inside parent.
func (q Query) In(parent Query) Query {
	p := parent
	q.Within = &p
	return q
}

// FirstMatch restricts q to its first match.
func (q Query) FirstMatch() Query {
	q.First = true
	return q
}

// Validate reports a query that names zero or several lookup strategies.
func (q Query) Validate() error {
	set := 0
	for _, v := range []string{q.Role, q.Placeholder, q.Text, q.Selector} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("locator %s must use exactly one of role, placeholder, text or selector", q))
	}
	if q.Name != "" && q.Role == "" {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("locator %s: name requires role", q))
	}
	if q.Within != nil {
		return q.Within.Validate()
	}
	return nil
}

func (q Query) String() string {
	var b strings.Builder
	if q.Within != nil {
		b.WriteString(q.Within.String())
		b.WriteString(" >> ")
	}
	switch {
	case q.Role != "" && q.Name != "":
		fmt.Fprintf(&b, "role=%s[name=%q]", q.Role, q.Name)
	case q.Role != "":
		fmt.Fprintf(&b, "role=%s", q.Role)
	case q.Placeholder != "":
		fmt.Fprintf(&b, "placeholder=%q", q.Placeholder)
	case q.Text != "":
		fmt.Fprintf(&b, "text=%q", q.Text)
	case q.Selector != "":
		fmt.Fprintf(&b, "css=%s", q.Selector)
	default:
		b.WriteString("<empty>")
	}
	if q.First {
		b.WriteString(" >> nth=0")
	}
	return b.String()
}

// resolve builds a lazy Playwright locator; nothing is awaited here.
func (s *Session) resolve(q Query) playwright.Locator {
	var loc playwright.Locator
	if q.Within != nil {
		loc = childLocator(s.resolve(*q.Within), q)
	} else {
		loc = pageLocator(s.page, q)
	}
	if q.First {
		loc = loc.First()
	}
	return loc
}

func pageLocator(page playwright.Page, q Query) playwright.Locator {
	switch {
	case q.Role != "":
		opts := playwright.PageGetByRoleOptions{}
		if q.Name != "" {
			opts.Name = q.Name
		}
		return page.GetByRole(playwright.AriaRole(q.Role), opts)
	case q.Placeholder != "":
		return page.GetByPlaceholder(q.Placeholder)
	case q.Text != "":
		return page.GetByText(q.Text)
	default:
		return page.Locator(q.Selector)
	}
}

func childLocator(parent playwright.Locator, q Query) playwright.Locator {
	switch {
	case q.Role != "":
		opts := playwright.LocatorGetByRoleOptions{}
		if q.Name != "" {
			opts.Name = q.Name
		}
		return parent.GetByRole(playwright.AriaRole(q.Role), opts)
	case q.Placeholder != "":
		return parent.GetByPlaceholder(q.Placeholder)
	case q.Text != "":
		return parent.GetByText(q.Text)
	default:
		return parent.Locator(q.Selector)
	}
}

// Element is a located, visible element.
type Element struct {
	s   *Session
	q   Query
	loc playwright.Locator
}

// Locate waits until q matches a visible element, failing with element_not_found
// once the wait bound passes.
func (s *Session) Locate(ctx context.Context, q Query) (*Element, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ms, err := s.waitBound(ctx)
	if err != nil {
		return nil, classify(err, errs.ElementNotFound, "locate "+q.String())
	}

	loc := s.resolve(q)
	// strict mode rejects multi-matches on actions, so waits go through the first match
	err = loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms),
	})
	if err != nil {
		return nil, classify(err, errs.ElementNotFound, "no visible match for "+q.String())
	}
	return &Element{s: s, q: q, loc: loc}, nil
}

// IsVisible checks q once without waiting. Missing elements report false.
func (s *Session) IsVisible(q Query) (bool, error) {
	if err := q.Validate(); err != nil {
		return false, err
	}
	visible, err := s.resolve(q).IsVisible()
	if err != nil {
		return false, classify(err, errs.ElementNotFound, "check visibility of "+q.String())
	}
	return visible, nil
}

