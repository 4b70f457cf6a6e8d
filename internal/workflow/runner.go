package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
)

const (
	defaultWaitTimeout = 30 * time.Second
	pollInterval       = 100 * time.Millisecond
)

// Runner executes a Script's steps in order against a BrowserSession.
// input steps are pausable: while Pause is in effect a StepInput waits
// until Resume is called. Nothing in this tree calls Pause or Resume; the
// Control Channel does not pause the runner.
type Runner struct {
	session browsersession.BrowserSession
	logger  *slog.Logger

	mu     sync.Mutex
	paused bool
}

// NewRunner constructs a Runner. logger may be nil (defaults to
// slog.Default()).
func NewRunner(session browsersession.BrowserSession, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{session: session, logger: logger}
}

// Pause suspends StepInput execution until Resume is called.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume lifts a Pause.
func (r *Runner) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

func (r *Runner) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Run executes every step of script in order. The first step to fail
// aborts the remainder and its error is returned wrapped with the step's
// index and type.
func (r *Runner) Run(ctx context.Context, script Script) error {
	for i, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.execute(ctx, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Type, err)
		}
		r.logger.Debug("workflow step completed", "index", i, "type", step.Type)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, step Step) error {
	switch step.Type {
	case StepNavigate:
		return r.session.Navigate(ctx, step.URL)
	case StepClick:
		return r.clickSelector(ctx, step.Selector)
	case StepInput:
		return r.waitWhileUnpaused(ctx, func() error {
			return r.inputSelector(ctx, step.Selector, step.Value)
		})
	case StepWait:
		return r.waitCondition(ctx, step.Condition, step.Timeout)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (r *Runner) clickSelector(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) throw new Error("selector not found: " + %q);
		el.click();
		return true;
	})()`, selector, selector)
	_, err := r.session.Evaluate(ctx, script)
	return err
}

func (r *Runner) inputSelector(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) throw new Error("selector not found: " + %q);
		el.value = %q;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, selector, value)
	_, err := r.session.Evaluate(ctx, script)
	return err
}

// waitWhileUnpaused blocks until the runner is not paused, then runs fn.
func (r *Runner) waitWhileUnpaused(ctx context.Context, fn func() error) error {
	for r.isPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fn()
}

func (r *Runner) waitCondition(ctx context.Context, condition string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	script := fmt.Sprintf(`(() => { try { return !!(%s); } catch (e) { return false; } })()`, condition)

	for {
		result, err := r.session.Evaluate(ctx, script)
		if err != nil {
			return err
		}
		if truthy, ok := result.(bool); ok && truthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait condition %q timed out after %s", condition, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
