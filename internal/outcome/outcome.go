// Package outcome classifies verb failures for the calling CI orchestrator.
//
// The orchestrator distinguishes three failure classes by exit code: a usage
// failure (malformed invocation), a system failure (the environment is at
// fault and the job should be retried on fresh infrastructure), and a build
// failure (the job's own script failed and a retry would not help). This
// mapping is the primary contract with the orchestrator; the retry behavior
// of every job depends on it.
package outcome

import (
	"errors"
	"fmt"
)

// Class is the severity assigned to a verb's terminal result.
type Class int

const (
	// Success - the verb completed, exit 0.
	Success Class = iota
	// UsageFailure - malformed invocation. Never triggers a retry.
	UsageFailure
	// SystemFailure - environment or tooling fault. Signals "retry the job".
	SystemFailure
	// BuildFailure - the job script exited non-zero. Signals "do not retry".
	BuildFailure
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case UsageFailure:
		return "usage failure"
	case SystemFailure:
		return "system failure"
	case BuildFailure:
		return "build failure"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Error is an error tagged with a failure class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Usagef returns a usage-classified error.
func Usagef(format string, args ...any) error {
	return &Error{Class: UsageFailure, Err: fmt.Errorf(format, args...)}
}

// System wraps err as a system failure. Returns nil for a nil err.
func System(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: SystemFailure, Err: err}
}

// Build returns a build-classified error carrying the remote exit status.
func Build(status int) error {
	return &Error{Class: BuildFailure, Err: fmt.Errorf("job script exited with status %d", status)}
}

// ClassOf returns the class of an error. Unclassified errors default to
// SystemFailure: when in doubt the orchestrator should retry on fresh
// infrastructure rather than mark the job permanently failed.
func ClassOf(err error) Class {
	if err == nil {
		return Success
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Class
	}
	return SystemFailure
}

// DefaultUsageCode is the exit code for malformed invocations (EX_USAGE).
// It must stay distinct from the configured build and system codes, which
// default to 1 and 2 per the runner convention.
const DefaultUsageCode = 64

// Codes maps failure classes to the process exit codes the orchestrator
// configured via environment.
type Codes struct {
	Build  int
	System int
	Usage  int
}

// ExitCode returns the process exit code for an error.
func (c Codes) ExitCode(err error) int {
	switch ClassOf(err) {
	case Success:
		return 0
	case UsageFailure:
		return c.Usage
	case BuildFailure:
		return c.Build
	default:
		return c.System
	}
}
