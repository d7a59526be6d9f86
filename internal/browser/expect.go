package browser

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/logutil"
)

const maxObservedChars = 200

// ExpectVisible asserts that q matches a visible element within the wait bound.
func (s *Session) ExpectVisible(ctx context.Context, q Query) error {
	if _, err := s.Locate(ctx, q); err != nil {
		if errs.Is(err, errs.ElementNotFound) {
			return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("expected %s to be visible, it was not", q), err)
		}
		return err
	}
	return nil
}

// ExpectHidden asserts that q matches nothing visible within the wait bound.
// A query that matches no element at all counts as hidden.
func (s *Session) ExpectHidden(ctx context.Context, q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	ms, err := s.waitBound(ctx)
	if err != nil {
		return classify(err, errs.AssertionFailed, fmt.Sprintf("expected %s to be hidden", q))
	}
	err = s.resolve(q).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: playwright.Float(ms),
	})
	if err != nil {
		return classify(err, errs.AssertionFailed, fmt.Sprintf("expected %s to be hidden, it stayed visible", q))
	}
	return nil
}

// ExpectText asserts that text appears visibly somewhere on the page.
func (s *Session) ExpectText(ctx context.Context, text string) error {
	q := ByText(text).FirstMatch()
	if _, err := s.Locate(ctx, q); err != nil {
		if errs.Is(err, errs.ElementNotFound) {
			return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("expected text %q on the page, not found", text), err)
		}
		return err
	}
	return nil
}

// ExpectTitle asserts that the document title eventually matches pattern.
func (s *Session) ExpectTitle(ctx context.Context, pattern *regexp.Regexp) error {
	observed, err := s.poll(ctx, func(ms float64) (bool, string, error) {
		title, err := within(ms, s.page.Title)
		if err != nil {
			return false, "", err
		}
		return pattern.MatchString(title), title, nil
	})
	if err != nil {
		return classify(err, errs.AssertionFailed, fmt.Sprintf("expected title to match /%s/, got %q", pattern, logutil.TruncateForLog(observed, maxObservedChars)))
	}
	return nil
}

// ExpectClass asserts that the element matched by q eventually carries a class
// attribute matching pattern.
func (s *Session) ExpectClass(ctx context.Context, q Query, pattern *regexp.Regexp) error {
	el, err := s.Locate(ctx, q)
	if err != nil {
		if errs.Is(err, errs.ElementNotFound) {
			return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("expected %s to have class /%s/, element not found", q, pattern), err)
		}
		return err
	}
	observed, err := s.poll(ctx, func(ms float64) (bool, string, error) {
		class, err := el.loc.First().GetAttribute("class", playwright.LocatorGetAttributeOptions{Timeout: playwright.Float(ms)})
		if err != nil {
			return false, "", err
		}
		return pattern.MatchString(class), class, nil
	})
	if err != nil {
		return classify(err, errs.AssertionFailed, fmt.Sprintf("expected %s to have class /%s/, got %q", q, pattern, observed))
	}
	return nil
}

// poll re-runs check, paced at the session poll interval, until it passes or the
// wait bound runs out. check gets the milliseconds left in the bound. The last
// observed value is returned either way.
func (s *Session) poll(ctx context.Context, check func(ms float64) (bool, string, error)) (string, error) {
	ms, err := s.waitBound(ctx)
	if err != nil {
		return "", err
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.pollInterval), 1)
	var observed string
	for {
		left, err := s.waitBound(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return observed, ctx.Err()
			}
			return observed, context.DeadlineExceeded
		}
		ok, value, err := check(left)
		if err != nil {
			return observed, err
		}
		observed = value
		if ok {
			return observed, nil
		}
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return observed, ctx.Err()
			}
			return observed, context.DeadlineExceeded
		}
	}
}
