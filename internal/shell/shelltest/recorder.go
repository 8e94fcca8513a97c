// Package shelltest provides a scriptable shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/imyashkale/deployer/internal/shell"
)

// Handler answers a recorded command. A nil result is replaced by an empty one.
type Handler func(cmd shell.Command) (*shell.Result, error)

// Recorder records every command it is asked to run
type Recorder struct {
	mu       sync.Mutex
	calls    []shell.Command
	handlers []matcher
}

type matcher struct {
	prefix  string
	handler Handler
}

// NewRecorder creates a recorder whose commands all succeed with no output
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On registers h for commands whose line starts with prefix. Later
// registrations take precedence.
func (r *Recorder) On(prefix string, h Handler) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, matcher{prefix: prefix, handler: h})
	return r
}

// OnOutput makes commands starting with prefix print stdout
func (r *Recorder) OnOutput(prefix, stdout string) *Recorder {
	return r.On(prefix, func(shell.Command) (*shell.Result, error) {
		return &shell.Result{Stdout: stdout}, nil
	})
}

// Fail makes commands starting with prefix exit 1 with output
func (r *Recorder) Fail(prefix, output string) *Recorder {
	return r.On(prefix, func(cmd shell.Command) (*shell.Result, error) {
		return &shell.Result{Stderr: output, ExitCode: 1}, &shell.ExitError{
			Command:  cmd.String(),
			ExitCode: 1,
			Output:   output,
			Err:      errExit,
		}
	})
}

// Run records cmd and answers it
func (r *Recorder) Run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	var h Handler
	line := cmd.String()
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, r.handlers[i].prefix) {
			h = r.handlers[i].handler
			break
		}
	}
	r.mu.Unlock()

	if h == nil {
		return &shell.Result{}, nil
	}
	res, err := h(cmd)
	if res == nil {
		res = &shell.Result{}
	}
	return res, err
}

// Calls returns the recorded commands
func (r *Recorder) Calls() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shell.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines returns the recorded command lines
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Count returns how many recorded lines start with prefix
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

type exitErr struct{}

func (exitErr) Error() string { return "exit status 1" }

var errExit error = exitErr{}
