package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/errs"
)

// checklistFile is the YAML form of a script.
//
//	name: login-smoke
//	policy: diagnose
//	error_screenshot: {path: error.png, full_page: true}
//	steps:
//	  - goto: /login.html
//	  - fill: {selector: "#username", value: "{{login_user}}"}
//	  - click: {role: button, name: 登录}
//	  - expect_title: 全局待办事项清单
//	  - screenshot: {path: verification.png}
type checklistFile struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Policy          string          `yaml:"policy"`
	ErrorScreenshot *shotSpec       `yaml:"error_screenshot"`
	Steps           []checklistStep `yaml:"steps"`
}

type checklistStep struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`

	// IfVisible skips the step when the target is not visible right now.
	IfVisible *targetSpec `yaml:"if_visible"`

	Goto          string        `yaml:"goto"`
	WaitUntil     string        `yaml:"wait_until"`
	WaitFor       *targetSpec   `yaml:"wait_for"`
	WaitURL       string        `yaml:"wait_url"`
	Fill          *targetSpec   `yaml:"fill"`
	Click         *targetSpec   `yaml:"click"`
	ExpectVisible *targetSpec   `yaml:"expect_visible"`
	ExpectHidden  *targetSpec   `yaml:"expect_hidden"`
	ExpectText    string        `yaml:"expect_text"`
	ExpectTitle   string        `yaml:"expect_title"`
	ExpectClass   *targetSpec   `yaml:"expect_class"`
	Screenshot    *shotSpec     `yaml:"screenshot"`
	Pause         time.Duration `yaml:"pause"`
}

type targetSpec struct {
	Role        string      `yaml:"role"`
	Name        string      `yaml:"name"`
	Placeholder string      `yaml:"placeholder"`
	Text        string      `yaml:"text"`
	Selector    string      `yaml:"selector"`
	Within      *targetSpec `yaml:"within"`
	First       bool        `yaml:"first"`

	Value   string `yaml:"value"`   // fill
	Pattern string `yaml:"pattern"` // expect_class
}

type shotSpec struct {
	Path     string `yaml:"path"`
	FullPage bool   `yaml:"full_page"`
}

func (t *targetSpec) query() browser.Query {
	q := browser.Query{
		Role:        t.Role,
		Name:        t.Name,
		Placeholder: t.Placeholder,
		Text:        t.Text,
		Selector:    t.Selector,
		First:       t.First,
	}
	if t.Within != nil {
		q = q.In(t.Within.query())
	}
	return q
}

// LoadChecklist reads a YAML checklist from path.
func LoadChecklist(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, errs.Wrap(errs.InvalidArgument, "read checklist "+path, err)
	}
	s, err := ParseChecklist(data)
	if err != nil {
		return Script{}, errs.Wrap(errs.CodeOf(err), filepath.Base(path), err)
	}
	return s, nil
}

// ParseChecklist builds a script from YAML. Unknown keys are rejected, and every
// step must name exactly one action.
func ParseChecklist(data []byte) (Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f checklistFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Script{}, errs.New(errs.InvalidArgument, "checklist is empty")
		}
		return Script{}, errs.Wrap(errs.InvalidArgument, "parse checklist", err)
	}

	s := Script{
		Name:        strings.TrimSpace(f.Name),
		Description: f.Description,
		Policy:      Policy(f.Policy),
	}
	if f.ErrorScreenshot != nil {
		s.ErrorShot = &Shot{Path: f.ErrorScreenshot.Path, FullPage: f.ErrorScreenshot.FullPage}
	}

	for i, cs := range f.Steps {
		step, err := cs.build()
		if err != nil {
			label := fmt.Sprintf("step %d", i+1)
			if cs.Name != "" {
				label += " (" + cs.Name + ")"
			}
			return Script{}, errs.Wrap(errs.InvalidArgument, label, err)
		}
		s.Steps = append(s.Steps, step)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

func (cs checklistStep) actions() []string {
	var set []string
	add := func(name string, present bool) {
		if present {
			set = append(set, name)
		}
	}
	add("goto", cs.Goto != "")
	add("wait_url", cs.WaitURL != "")
	add("fill", cs.Fill != nil)
	add("click", cs.Click != nil)
	add("expect_visible", cs.ExpectVisible != nil)
	add("expect_hidden", cs.ExpectHidden != nil)
	add("expect_text", cs.ExpectText != "")
	add("expect_title", cs.ExpectTitle != "")
	add("expect_class", cs.ExpectClass != nil)
	add("screenshot", cs.Screenshot != nil)
	add("pause", cs.Pause > 0)
	return set
}

func (cs checklistStep) build() (Step, error) {
	actions := cs.actions()
	switch len(actions) {
	case 0:
		return Step{}, errors.New("no action (want one of goto, wait_url, fill, click, expect_visible, expect_hidden, expect_text, expect_title, expect_class, screenshot, pause)")
	case 1:
	default:
		return Step{}, fmt.Errorf("several actions %s; split them into separate steps", strings.Join(actions, ", "))
	}
	if (cs.WaitUntil != "" || cs.WaitFor != nil) && cs.Goto == "" {
		return Step{}, errors.New("wait_until and wait_for only apply to goto")
	}

	step := Step{Name: cs.Name, Timeout: cs.Timeout}
	if step.Name == "" {
		step.Name = actions[0]
	}
	if cs.IfVisible != nil {
		guard := cs.IfVisible.query()
		if err := guard.Validate(); err != nil {
			return Step{}, fmt.Errorf("if_visible: %w", err)
		}
		step.When = visible(guard)
	}

	target := func(t *targetSpec) (browser.Query, error) {
		q := t.query()
		if err := q.Validate(); err != nil {
			return q, fmt.Errorf("%s: %w", actions[0], err)
		}
		return q, nil
	}

	switch {
	case cs.Goto != "":
		wait, err := browser.ParseWaitUntil(cs.WaitUntil)
		if err != nil {
			return Step{}, err
		}
		opts := browser.NavigateOptions{WaitUntil: wait}
		if cs.WaitFor != nil {
			q, err := target(cs.WaitFor)
			if err != nil {
				return Step{}, err
			}
			opts.WaitFor = &q
		}
		path := cs.Goto
		step.Do = func(ctx context.Context, p *Page) error {
			return p.Navigate(ctx, p.URL(p.Expand(path)), opts)
		}

	case cs.WaitURL != "":
		path := cs.WaitURL
		step.Do = func(ctx context.Context, p *Page) error {
			return p.WaitForURL(ctx, p.URL(p.Expand(path)))
		}

	case cs.Fill != nil:
		q, err := target(cs.Fill)
		if err != nil {
			return Step{}, err
		}
		step.Do = fill(q, cs.Fill.Value)

	case cs.Click != nil:
		q, err := target(cs.Click)
		if err != nil {
			return Step{}, err
		}
		step.Do = click(q)

	case cs.ExpectVisible != nil:
		q, err := target(cs.ExpectVisible)
		if err != nil {
			return Step{}, err
		}
		step.Do = expectVisible(q)

	case cs.ExpectHidden != nil:
		q, err := target(cs.ExpectHidden)
		if err != nil {
			return Step{}, err
		}
		step.Do = func(ctx context.Context, p *Page) error { return p.ExpectHidden(ctx, q) }

	case cs.ExpectText != "":
		step.Do = expectText(cs.ExpectText)

	case cs.ExpectTitle != "":
		re, err := regexp.Compile(cs.ExpectTitle)
		if err != nil {
			return Step{}, fmt.Errorf("expect_title: %w", err)
		}
		step.Do = func(ctx context.Context, p *Page) error { return p.ExpectTitle(ctx, re) }

	case cs.ExpectClass != nil:
		q, err := target(cs.ExpectClass)
		if err != nil {
			return Step{}, err
		}
		if cs.ExpectClass.Pattern == "" {
			return Step{}, errors.New("expect_class: pattern is required")
		}
		re, err := regexp.Compile(cs.ExpectClass.Pattern)
		if err != nil {
			return Step{}, fmt.Errorf("expect_class: %w", err)
		}
		step.Do = func(ctx context.Context, p *Page) error { return p.ExpectClass(ctx, q, re) }

	case cs.Screenshot != nil:
		if strings.TrimSpace(cs.Screenshot.Path) == "" {
			return Step{}, errors.New("screenshot: path is required")
		}
		step.Do = screenshot(cs.Screenshot.Path, cs.Screenshot.FullPage)

	case cs.Pause > 0:
		d := cs.Pause
		step.Do = func(ctx context.Context, p *Page) error { return p.Pause(ctx, d) }
	}
	return step, nil
}
