package execute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/debpack/internal/logger"
)

const (
	// stderrTailSize is how much of a tool's stderr is kept for error reports.
	stderrTailSize = 4096

	// exitCodeNotFound mirrors the shell status for an unknown command.
	exitCodeNotFound = 127

	// exitCodeKilled is reported when the tool died without an exit status.
	exitCodeKilled = 1
)

// Command describes one tool invocation.
type Command struct {
	// Name is the executable, looked up in PATH.
	Name string
	// Args are passed to the executable as-is.
	Args []string
	// Dir is the working directory; empty inherits the current one.
	Dir string
	// Privileged runs the tool through the privilege command unless already root.
	Privileged bool
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a finished tool.
type Result struct {
	// Argv is the full command line actually executed.
	Argv []string
	// ExitCode is the tool's exit status.
	ExitCode int
	// Stderr holds the tail of the tool's standard error.
	Stderr string
	// Duration is the wall time of the invocation.
	Duration time.Duration
}

// Runner executes tool invocations.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a tool that finished with a non-zero status.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

// Error implements error.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + lastLine(tail)
	}

	return msg
}

// ExecRunner runs tools as subprocesses wired to the terminal.
type ExecRunner struct {
	stdin            io.Reader
	stdout           io.Writer
	stderr           io.Writer
	privilegeCommand string
	timeout          time.Duration
	isRoot           func() bool
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithStdio replaces the process standard streams.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(r *ExecRunner) {
		r.stdin = stdin
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithPrivilegeCommand sets the escalation prefix, sudo by default.
func WithPrivilegeCommand(name string) Option {
	return func(r *ExecRunner) {
		r.privilegeCommand = name
	}
}

// WithTimeout bounds each invocation. Zero disables the limit.
func WithTimeout(timeout time.Duration) Option {
	return func(r *ExecRunner) {
		r.timeout = timeout
	}
}

// WithRootCheck overrides how the runner decides it already has root rights.
func WithRootCheck(isRoot func() bool) Option {
	return func(r *ExecRunner) {
		r.isRoot = isRoot
	}
}

// NewExecRunner creates a runner attached to the process standard streams.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		stdin:            os.Stdin,
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		privilegeCommand: "sudo",
		isRoot: func() bool {
			return os.Geteuid() == 0
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Argv returns the command line that Run would execute for cmd.
func (r *ExecRunner) Argv(cmd Command) []string {
	argv := append([]string{cmd.Name}, cmd.Args...)
	if cmd.Privileged && !r.isRoot() {
		argv = append([]string{r.privilegeCommand}, argv...)
	}

	return argv
}

// Run executes cmd and waits for it. A non-zero exit yields an *ExitError
// alongside the populated Result.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	argv := r.Argv(cmd)
	tail := newTailBuffer(stderrTailSize)

	process := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // Tool names come from settings.
	process.Dir = cmd.Dir
	process.Stdout = r.stdout
	process.Stderr = io.MultiWriter(r.stderr, tail)

	// Only the escalation prompt needs the terminal.
	if cmd.Privileged {
		process.Stdin = r.stdin
	}

	logger.DebugKV(ctx, "Running tool", "command", cmd.String(), "privileged", cmd.Privileged, "argv", argv, "dir", cmd.Dir)

	started := time.Now()
	err := process.Run()

	result := &Result{
		Argv:     argv,
		Stderr:   tail.String(),
		Duration: time.Since(started),
	}

	if err == nil {
		logger.DebugKV(ctx, "Tool finished", "tool", argv[0], "duration", result.Duration)
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = exitCodeKilled
		return result, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
	}

	var exitErr *exec.ExitError

	switch {
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			result.ExitCode = exitCodeKilled
		}
	case errors.Is(err, exec.ErrNotFound):
		result.ExitCode = exitCodeNotFound
		result.Stderr = err.Error()
	default:
		return result, fmt.Errorf("start %s: %w", argv[0], err)
	}

	return result, &ExitError{
		Tool:   argv[0],
		Code:   result.ExitCode,
		Stderr: result.Stderr,
	}
}

// ExitCode extracts the tool exit status from err, or fallback when err
// does not come from a failed tool.
func ExitCode(err error, fallback int) int {
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return fallback
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
