// Package browser owns a single Playwright browser session and exposes the
// bounded-wait operations verification scripts are built from: navigate, locate,
// fill, click, expect and screenshot.
//
// Every wait is bounded by the session timeout, or by the caller's context
// deadline when one is set. A Session is released exactly once by Close.
package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/obs"
)

const (
	DefaultTimeout      = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// LaunchOptions configures a new browser session.
type LaunchOptions struct {
	Browser  string // chromium (default), firefox or webkit
	Headless bool
	Timeout  time.Duration
}

// Session is one browser, one context and one page, owned by a single script run.
type Session struct {
	page         playwright.Page
	timeout      time.Duration
	pollInterval time.Duration

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Launch starts the Playwright driver and opens a fresh page.
// Partially acquired resources are released before an error is returned.
func Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "launch cancelled", err)
	}
	log := obs.From(ctx).With("pkg", "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "playwright driver not available", err)
	}

	browserType := pw.Chromium
	switch strings.ToLower(opts.Browser) {
	case "firefox":
		browserType = pw.Firefox
	case "webkit":
		browserType = pw.WebKit
	}

	b, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not launch "+browserType.Name(), err)
	}

	bctx, err := b.NewContext()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not create browser context", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not create page", err)
	}

	log.Debug("browser_launched", "browser", browserType.Name(), "headless", opts.Headless)
	return NewSession(page, opts.Timeout,
		func() error { return bctx.Close() },
		func() error { return b.Close() },
		pw.Stop,
	), nil
}

// NewSession wraps an open page. closers run in order, once, when the session is closed.
func NewSession(page playwright.Page, timeout time.Duration, closers ...func() error) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ms := float64(timeout.Milliseconds())
	page.SetDefaultTimeout(ms)
	page.SetDefaultNavigationTimeout(ms)

	return &Session{
		page:         page,
		timeout:      timeout,
		pollInterval: defaultPollInterval,
		closers:      closers,
	}
}

// Page returns the underlying Playwright page.
func (s *Session) Page() playwright.Page {
	return s.page
}

// Timeout returns the default wait bound.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// Close releases the page, context, browser and driver. Safe to call more than once;
// only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var closeErrs []error
		for _, c := range s.closers {
			if c == nil {
				continue
			}
			if err := c(); err != nil {
				closeErrs = append(closeErrs, err)
			}
		}
		s.closeErr = errors.Join(closeErrs...)
	})
	return s.closeErr
}

// waitBound returns the wait budget in milliseconds for the next browser call.
func (s *Session) waitBound(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bound := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		bound = time.Until(deadline)
		if bound <= 0 {
			return 0, context.DeadlineExceeded
		}
	}
	ms := float64(bound.Milliseconds())
	if ms < 1 {
		// playwright treats 0 as "wait forever"
		ms = 1
	}
	return ms, nil
}

// within runs read but gives up after ms milliseconds. Page.Title and
// Page.Content take no timeout option of their own; an abandoned read finishes
// in the background when the driver answers or the session closes.
func within[T any](ms float64, read func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := read()
		ch <- result{v, err}
	}()

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		var zero T
		return zero, context.DeadlineExceeded
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, playwright.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// untyped driver errors: match the message, never the URL embedded after it
	return driverTimeoutRe.MatchString(err.Error())
}

var driverTimeoutRe = regexp.MustCompile(`(?:^|: )Timeout \d+ms exceeded`)

// classify converts a driver error into a coded error. Timeouts get timeoutCode.
func classify(err error, timeoutCode errs.Code, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Internal, message+": cancelled", err)
	}
	if isTimeout(err) {
		return errs.Wrap(timeoutCode, message, err)
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return errs.Wrap(errs.Unavailable, message+": browser closed", err)
	}
	return errs.Wrap(errs.Internal, message, err)
}
