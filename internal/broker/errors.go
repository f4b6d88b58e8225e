package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Norgate-AV/csx/internal/compiler"
)

// ErrFaulted is matched by every error that ends an invocation in the
// faulted state
var ErrFaulted = errors.New("invocation faulted")

// CompileError reports a failed compilation together with its diagnostics
type CompileError struct {
	Script      string
	ExitCode    int
	Diagnostics []compiler.Diagnostic
}

func (e *CompileError) Error() string {
	errs := 0
	for _, d := range e.Diagnostics {
		if d.Severity == compiler.SeverityError {
			errs++
		}
	}

	return fmt.Sprintf("compilation of %s failed with %d error(s)", e.Script, errs)
}

// Is makes a CompileError match ErrFaulted
func (e *CompileError) Is(target error) bool {
	return target == ErrFaulted
}

// Report renders every diagnostic on its own line
func (e *CompileError) Report() string {
	lines := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		lines = append(lines, d.String())
	}

	return strings.Join(lines, "\n")
}

// ExecuteError wraps a failure to load or run a compiled unit
type ExecuteError struct {
	Unit string
	Err  error
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("failed to execute %s: %v", e.Unit, e.Err)
}

func (e *ExecuteError) Unwrap() error {
	return e.Err
}

// Is makes an ExecuteError match ErrFaulted
func (e *ExecuteError) Is(target error) bool {
	return target == ErrFaulted
}

// faulted marks an infrastructure failure raised while in stage
func faulted(stage State, err error) error {
	return fmt.Errorf("%w while %s: %w", ErrFaulted, stage, err)
}
