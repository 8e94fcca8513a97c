// Package deployerr defines the fatal error kinds a pipeline run can end with.
package deployerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fatal pipeline error
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindBuild
	KindPublish
	KindHook
	KindDeployment
	KindVerification
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindBuild:
		return "BuildError"
	case KindPublish:
		return "PublishError"
	case KindHook:
		return "HookError"
	case KindDeployment:
		return "DeploymentError"
	case KindVerification:
		return "VerificationError"
	}
	return "Error"
}

// Error is a classified failure of one pipeline operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration wraps err as a ConfigurationError
func Configuration(op string, err error) error { return newError(KindConfiguration, op, err) }

// Build wraps err as a BuildError
func Build(op string, err error) error { return newError(KindBuild, op, err) }

// Publish wraps err as a PublishError
func Publish(op string, err error) error { return newError(KindPublish, op, err) }

// Deployment wraps err as a DeploymentError
func Deployment(op string, err error) error { return newError(KindDeployment, op, err) }

// Verification wraps err as a VerificationError. The side effects that were
// verified have already happened and are not undone.
func Verification(op string, err error) error { return newError(KindVerification, op, err) }

// HookError reports a failed hook. Remaining hooks of the phase were not run.
type HookError struct {
	Phase   string
	Name    string
	Command string
	Output  string
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("HookError: %s hook %q (%s) failed: %v", e.Phase, e.Name, e.Command, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var hookErr *HookError
	var classified *Error
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &classified):
		if classified.Kind == KindDeployment && errors.As(classified.Err, &hookErr) {
			return KindHook
		}
		return classified.Kind
	case errors.As(err, &hookErr):
		return KindHook
	}
	return KindUnknown
}

// PipelineError is the single error a failed pipeline run returns
type PipelineError struct {
	Environment string
	Elapsed     time.Duration
	Err         error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("deployment to %s failed after %s: %v", e.Environment, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Kind is the kind of the underlying failure
func (e *PipelineError) Kind() Kind { return KindOf(e.Err) }
