package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/logutil"
	"github.com/kuitang/handover-verify/internal/obs"
)

// WaitUntil names the load milestone a navigation waits for.
type WaitUntil string

const (
	WaitDOMReady    WaitUntil = "domcontentloaded"
	WaitLoad        WaitUntil = "load"
	WaitNetworkIdle WaitUntil = "networkidle"
)

func (w WaitUntil) state() *playwright.WaitUntilState {
	switch w {
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

// ParseWaitUntil accepts the milestone names used in checklists. Empty means DOM ready.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch WaitUntil(s) {
	case "", WaitDOMReady:
		return WaitDOMReady, nil
	case WaitLoad, WaitNetworkIdle:
		return WaitUntil(s), nil
	default:
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("unknown load state %q (want domcontentloaded, load or networkidle)", s))
	}
}

// NavigateOptions controls when a navigation counts as finished.
type NavigateOptions struct {
	WaitUntil WaitUntil
	// WaitFor, when set, must also become visible before the navigation succeeds.
	WaitFor *Query
}

// Navigate opens target and waits for the requested load condition.
// Failing to reach it within the wait bound yields navigation_timeout.
func (s *Session) Navigate(ctx context.Context, target string, opts NavigateOptions) error {
	wait := opts.WaitUntil
	if wait == "" {
		wait = WaitDOMReady
	}
	ms, err := s.waitBound(ctx)
	if err != nil {
		return classify(err, errs.NavigationTimeout, "navigate to "+target)
	}

	obs.From(ctx).Debug("navigate", "pkg", "browser", "url", target, "wait_until", string(wait))
	_, err = s.page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: wait.state(),
		Timeout:   playwright.Float(ms),
	})
	if err != nil {
		if isTimeout(err) {
			return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("navigate to %s: %s not reached", target, wait), err)
		}
		if errors.Is(err, context.Canceled) {
			return classify(err, errs.NavigationTimeout, "navigate to "+target)
		}
		// connection refused, DNS failures and the like: the target app is not up
		return errs.Wrap(errs.Unavailable, "navigate to "+target, err)
	}

	if opts.WaitFor != nil {
		if _, err := s.Locate(ctx, *opts.WaitFor); err != nil {
			if errs.Is(err, errs.ElementNotFound) {
				return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("navigate to %s: %s never became visible", target, opts.WaitFor), err)
			}
			return err
		}
	}
	return nil
}

// WaitForURL waits until the page URL equals url (glob patterns allowed) and the DOM is ready.
func (s *Session) WaitForURL(ctx context.Context, url string) error {
	ms, err := s.waitBound(ctx)
	if err != nil {
		return classify(err, errs.NavigationTimeout, "wait for url "+url)
	}
	err = s.page.WaitForURL(url, playwright.PageWaitForURLOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(ms),
	})
	if err != nil {
		return classify(err, errs.NavigationTimeout, fmt.Sprintf("wait for url %s (at %s)", url, s.page.URL()))
	}
	return nil
}

// Fill locates q and replaces its value with text.
func (s *Session) Fill(ctx context.Context, q Query, text string) error {
	el, err := s.Locate(ctx, q)
	if err != nil {
		return err
	}
	return el.Fill(ctx, text)
}

// Click locates q and clicks it.
func (s *Session) Click(ctx context.Context, q Query) error {
	el, err := s.Locate(ctx, q)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

// Fill replaces the element's value with text.
func (e *Element) Fill(ctx context.Context, text string) error {
	ms, err := e.s.waitBound(ctx)
	if err != nil {
		return classify(err, errs.ElementNotFound, "fill "+e.q.String())
	}
	target := e.q.String()
	obs.From(ctx).Debug("fill", "pkg", "browser", "target", target, "value", logutil.RedactFillValue(target, text))
	if err := e.loc.Fill(text, playwright.LocatorFillOptions{Timeout: playwright.Float(ms)}); err != nil {
		return classify(err, errs.ElementNotFound, "fill "+target)
	}
	return nil
}

// Click clicks the element once it is actionable.
func (e *Element) Click(ctx context.Context) error {
	ms, err := e.s.waitBound(ctx)
	if err != nil {
		return classify(err, errs.ElementNotFound, "click "+e.q.String())
	}
	obs.From(ctx).Debug("click", "pkg", "browser", "target", e.q.String())
	if err := e.loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(ms)}); err != nil {
		return classify(err, errs.ElementNotFound, "click "+e.q.String())
	}
	return nil
}

// Pause waits for d, typically to let a CSS transition finish before a screenshot.
func (s *Session) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return classify(ctx.Err(), errs.Internal, "pause")
	}
}
