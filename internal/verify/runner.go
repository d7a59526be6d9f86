package verify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/logutil"
	"github.com/kuitang/handover-verify/internal/obs"
)

const (
	// markup logged under PolicyDiagnose is cut to this many characters; the report keeps it whole
	maxLoggedMarkup = 4000
	errorShotBudget = 10 * time.Second
)

// Launcher opens a fresh browser session for one run.
type Launcher func(ctx context.Context) (*browser.Session, error)

// PlaywrightLauncher launches real browsers with opts.
func PlaywrightLauncher(opts browser.LaunchOptions) Launcher {
	return func(ctx context.Context) (*browser.Session, error) {
		return browser.Launch(ctx, opts)
	}
}

// Sink receives every finished result, in the order sinks were added.
// Sink errors are logged; they never change the run outcome.
type Sink interface {
	Record(ctx context.Context, res *Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res *Result) error

func (f SinkFunc) Record(ctx context.Context, res *Result) error { return f(ctx, res) }

// Runner executes scripts one at a time.
type Runner struct {
	launch Launcher
	target Target
	sinks  []Sink
	now    func() time.Time
}

// NewRunner creates a runner that opens sessions with launch and runs scripts against target.
func NewRunner(launch Launcher, target Target, sinks ...Sink) *Runner {
	return &Runner{
		launch: launch,
		target: target,
		sinks:  sinks,
		now:    time.Now,
	}
}

// Run executes s and returns its result. It never returns nil; failures are in the Result.
func (r *Runner) Run(ctx context.Context, s Script) *Result {
	res := &Result{
		RunID:     uuid.NewString(),
		Script:    s.Name,
		Status:    StatusPassed,
		StartedAt: r.now().UTC(),
		Steps:     []StepResult{},
	}
	ctx = obs.WithRun(ctx, res.RunID, s.Name)
	log := obs.From(ctx).With("pkg", "verify")

	defer func() {
		res.Duration = r.now().Sub(res.StartedAt)
		r.record(ctx, log, res)
	}()

	if err := s.Validate(); err != nil {
		res.fail(err)
		log.Error("script_invalid", "error", err)
		return res
	}

	log.Info("script_start", "description", s.Description, "steps", len(s.Steps), "policy", string(s.policy()))
	sess, err := r.launch(ctx)
	if err != nil {
		res.fail(classifyLaunch(err))
		log.Error("browser_unavailable", "error", err)
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("browser_close_failed", "error", err)
		}
	}()

	page := &Page{Session: sess, target: r.target, result: res}
	if err := r.execute(ctx, page, s); err != nil {
		res.fail(err)
		r.handleFailure(ctx, log, page, s, err)
		return res
	}
	log.Info("script_passed", "screenshots", len(res.Screenshots), "dur_ms", r.now().Sub(res.StartedAt).Milliseconds())
	return res
}

// RunAll runs scripts in order and returns every result. A failing script
// does not stop the ones after it; a cancelled context does.
func (r *Runner) RunAll(ctx context.Context, scripts []Script) []*Result {
	results := make([]*Result, 0, len(scripts))
	for _, s := range scripts {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.Run(ctx, s))
	}
	return results
}

func (r *Runner) execute(ctx context.Context, page *Page, s Script) (err error) {
	for i, step := range s.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Internal, "cancelled before "+name, err)
		}

		stepCtx := obs.WithStep(ctx, name)
		started := r.now()
		status, stepErr := r.runStep(stepCtx, page, step, name)
		sr := StepResult{Name: name, Status: status, Duration: r.now().Sub(started)}
		if stepErr != nil {
			sr.Error = stepErr.Error()
		}
		page.result.Steps = append(page.result.Steps, sr)

		stepLog := obs.From(stepCtx).With("pkg", "verify", "dur_ms", sr.Duration.Milliseconds())
		switch status {
		case StepSkipped:
			stepLog.Info("step_skipped")
		case StepFailed:
			stepLog.Warn("step_failed", "code", string(errs.CodeOf(stepErr)))
			return stepErr
		default:
			stepLog.Debug("step_ok")
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, page *Page, step Step, name string) (status StepStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			obs.From(ctx).Error("step_panic", "pkg", "verify", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			status = StepFailed
			err = errs.New(errs.Internal, fmt.Sprintf("%s: panic: %v", name, rec))
		}
	}()

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	if step.When != nil {
		ok, err := step.When(ctx, page)
		if err != nil {
			return StepFailed, fmt.Errorf("%s: guard: %w", name, err)
		}
		if !ok {
			return StepSkipped, nil
		}
	}
	if err := step.Do(ctx, page); err != nil {
		return StepFailed, &stepError{step: name, err: err}
	}
	return StepOK, nil
}

// handleFailure applies the script policy. The session is still open here.
func (r *Runner) handleFailure(ctx context.Context, log *slog.Logger, page *Page, s Script, runErr error) {
	diag := page.Diagnostics()
	page.result.Diagnostics = &diag

	if s.policy() != PolicyDiagnose {
		log.Error("script_failed", "code", string(errs.CodeOf(runErr)), "error", runErr)
		return
	}

	log.Error("script_failed",
		"code", string(errs.CodeOf(runErr)),
		"error", runErr,
		"url", diag.URL,
		"title", diag.Title,
		"page_content", logutil.TruncateForLog(diag.HTML, maxLoggedMarkup),
	)
	if s.ErrorShot == nil {
		return
	}

	// the run context may already be expired; the error screenshot gets its own budget
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorShotBudget)
	defer cancel()
	path := page.resultsPath(s.ErrorShot.Path)
	if _, err := page.Screenshot(shotCtx, path, s.ErrorShot.FullPage); err != nil {
		log.Warn("error_screenshot_failed", "path", path, "error", err)
		return
	}
	page.result.ErrorShot = path
}

func (r *Runner) record(ctx context.Context, log *slog.Logger, res *Result) {
	// sinks run after the browser is gone and must not inherit a cancelled run
	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.Record(ctx, res); err != nil {
			log.Warn("result_sink_failed", "error", err)
		}
	}
}

func classifyLaunch(err error) error {
	if errs.CodeOf(err) != errs.Internal {
		return err
	}
	return errs.Wrap(errs.Unavailable, "browser unavailable", err)
}

// stepError prefixes the failing step name but keeps the step's error code.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }
