// Package shell runs external tools (docker, kubectl, git, npm, hooks) as
// subprocesses with bounded timeouts and captured output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/logger"
)

// DefaultTimeout bounds commands that do not set their own
const DefaultTimeout = 10 * time.Minute

// Command is a single subprocess invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
	// Stream, when set, also receives stdout and stderr as they are produced
	Stream io.Writer
}

// String renders the command line for logs and errors
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout and stderr joined, trimmed
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout + r.Stderr)
}

// ExitError is returned when a command could not run or exited non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out: %v", e.Command, e.Err)
	}
	if e.Output == "" {
		return fmt.Sprintf("%s: exit %d: %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, lastLines(e.Output, 20))
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs commands with os/exec
type Exec struct{}

// NewExec creates the os/exec backed runner
func NewExec() *Exec {
	return &Exec{}
}

// Run executes cmd and waits for it, killing it when the timeout expires
func (Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	if cmd.Stream != nil {
		c.Stdout = io.MultiWriter(&stdout, cmd.Stream)
		c.Stderr = io.MultiWriter(&stderr, cmd.Stream)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	logger.WithField("command", cmd.String()).Debug("Running command")

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}
	if err != nil {
		return res, &ExitError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Output:   res.Output(),
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	return res, nil
}

// OutputOf extracts the captured output from an ExitError, if err is one
func OutputOf(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return ""
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
