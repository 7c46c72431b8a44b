// Package lifecycle runs plugin lifecycle scripts as time-boxed child processes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/jmgilman/go/exec"
)

const (
	// maxCapture bounds how much of each stream is kept for messages and audit records.
	maxCapture = 64 << 10
	// killGrace is how long Run waits for a killed script to release its pipes.
	killGrace = 2 * time.Second
)

// Script describes one script invocation.
type Script struct {
	// Path is the script file. It runs as `<Interpreter> <Path>` inside Dir.
	Path        string
	Dir         string
	Interpreter string
	Env         map[string]string
}

// Result describes a finished invocation.
type Result struct {
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timedOut"`
}

// Options configures a Runner.
type Options struct {
	Timeout time.Duration
	Output  output.Printer
	// Executor builds a fresh executor per run. Defaults to exec.New.
	Executor func() exec.Executor
}

// Runner executes lifecycle scripts.
type Runner struct {
	timeout     time.Duration
	out         output.Printer
	newExecutor func() exec.Executor
}

// New builds a Runner. A zero timeout takes the default of 30s.
func New(opts Options) *Runner {
	r := &Runner{
		timeout:     opts.Timeout,
		out:         output.OrDiscard(opts.Output),
		newExecutor: opts.Executor,
	}
	if r.timeout <= 0 {
		r.timeout = helpers.LifecycleDefaultTimeout
	}
	if r.newExecutor == nil {
		r.newExecutor = func() exec.Executor {
			return exec.New(exec.WithInheritEnv(), exec.WithDisableColors())
		}
	}
	return r
}

// Timeout returns the per-script bound.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run executes s. A non-zero exit wraps ErrScriptFailed, an expired timeout wraps
// ErrScriptTimeout. The Result is filled in either case.
func (r *Runner) Run(ctx context.Context, s Script) (Result, error) {
	if _, err := os.Stat(s.Path); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %w", helpers.ErrScriptFailed, err)
	}
	interpreter := s.Interpreter
	if interpreter == "" {
		interpreter = helpers.ManifestDefaultInterpreter
	}
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(s.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		res *exec.Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := r.newExecutor().
			WithDir(dir).
			WithEnv(s.Env).
			WithContext(ctx).
			Run(interpreter, s.Path)
		done <- outcome{res: res, err: err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-ctx.Done():
		// The process is killed with the context. Grandchildren holding the
		// pipes open must not keep the caller waiting.
		select {
		case got = <-done:
		case <-time.After(killGrace):
			got = outcome{err: ctx.Err()}
		}
	}

	res := Result{ExitCode: -1, Duration: time.Since(start)}
	if got.res != nil {
		res.ExitCode = got.res.ExitCode
		res.Stdout = clip(got.res.Stdout)
		res.Stderr = clip(got.res.Stderr)
	}
	r.out.Debugf("lifecycle script %s exited %d after %s", s.Path, res.ExitCode, res.Duration.Round(time.Millisecond))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, fmt.Errorf("%w after %s: %s", helpers.ErrScriptTimeout, r.timeout, s.Path)
	}
	if got.err != nil {
		var execErr *exec.ExecError
		if errors.As(got.err, &execErr) && execErr.ExitCode > 0 {
			return res, fmt.Errorf("%w: %s exited %d", helpers.ErrScriptFailed, filepath.Base(s.Path), execErr.ExitCode)
		}
		return res, fmt.Errorf("%w: %w", helpers.ErrScriptFailed, got.err)
	}
	return res, nil
}

func clip(s string) string {
	if len(s) <= maxCapture {
		return s
	}
	return s[:maxCapture] + "\n[truncated]"
}

// Env returns the variables every lifecycle script receives.
func Env(pluginID, version, transactionID, phase, pluginDir string) map[string]string {
	return map[string]string{
		"PLUGCTL_PLUGIN_ID":      pluginID,
		"PLUGCTL_PLUGIN_VERSION": version,
		"PLUGCTL_TRANSACTION_ID": transactionID,
		"PLUGCTL_PHASE":          phase,
		"PLUGCTL_PLUGIN_DIR":     pluginDir,
	}
}
