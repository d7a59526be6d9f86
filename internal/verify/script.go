// Package verify runs verification scripts: fixed, linear checklists of browser
// steps against a live target application. Each run owns one browser session and
// releases it exactly once, however the script ends.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/errs"
)

// Policy decides what a failing run does before the browser is released.
type Policy string

const (
	// PolicyAbort logs the error and releases the browser.
	PolicyAbort Policy = "abort"
	// PolicyDiagnose also logs the page markup and takes the error screenshot, if any.
	PolicyDiagnose Policy = "diagnose"
)

// Step is one action of a script. Steps run in order; the first failure stops the script.
type Step struct {
	Name string
	// Timeout overrides the session wait bound for this step when positive.
	Timeout time.Duration
	// When, if set, is checked first. A false guard skips the step.
	When func(ctx context.Context, p *Page) (bool, error)
	Do   func(ctx context.Context, p *Page) error
}

// Shot names an image file inside the results directory.
type Shot struct {
	Path     string
	FullPage bool
}

// Script is a named, ordered list of steps.
type Script struct {
	Name        string
	Description string
	Steps       []Step
	Policy      Policy
	// ErrorShot is captured on failure under PolicyDiagnose.
	ErrorShot *Shot
}

// Validate checks the script is runnable.
func (s Script) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errs.New(errs.InvalidArgument, "script name is required")
	}
	if len(s.Steps) == 0 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("script %s has no steps", s.Name))
	}
	switch s.Policy {
	case "", PolicyAbort, PolicyDiagnose:
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("script %s: unknown policy %q", s.Name, s.Policy))
	}
	for i, step := range s.Steps {
		if step.Do == nil {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("script %s: step %d (%s) has no action", s.Name, i+1, step.Name))
		}
	}
	if s.ErrorShot != nil && strings.TrimSpace(s.ErrorShot.Path) == "" {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("script %s: error screenshot path is empty", s.Name))
	}
	return nil
}

func (s Script) policy() Policy {
	if s.Policy == "" {
		return PolicyAbort
	}
	return s.Policy
}

// Status is the outcome of a run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult records one executed (or skipped) step.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the record of one script run.
type Result struct {
	RunID       string               `json:"run_id"`
	Script      string               `json:"script"`
	Status      Status               `json:"status"`
	Code        errs.Code            `json:"code,omitempty"`
	Message     string               `json:"message,omitempty"`
	Screenshots []string             `json:"screenshots,omitempty"`
	ErrorShot   string               `json:"error_screenshot,omitempty"`
	Artifacts   []string             `json:"artifacts,omitempty"`
	Steps       []StepResult         `json:"steps"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration"`
	Diagnostics *browser.Diagnostics `json:"diagnostics,omitempty"`

	err error
}

// Passed reports whether every step succeeded or was skipped.
func (r *Result) Passed() bool {
	return r.Status == StatusPassed
}

// Err returns the error that failed the run, or nil.
func (r *Result) Err() error {
	return r.err
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Code = errs.CodeOf(err)
	r.Message = err.Error()
	r.err = err
}
