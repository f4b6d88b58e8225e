package compiler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// CommandBuilder runs compiler command lines and captures their output
type CommandBuilder struct {
	execCommand func(ctx context.Context, name string, args ...string) Commander
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
	}
}

// ExecuteCommand runs the compiler and returns its exit code and combined
// output. The error is non-nil only if the compiler could not be run at all.
func (cb *CommandBuilder) ExecuteCommand(ctx context.Context, compilerPath string, args []string) (int, string, error) {
	out, err := cb.execCommand(ctx, compilerPath, args...).CombinedOutput()
	if err == nil {
		return 0, string(out), nil
	}

	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), string(out), nil
	}

	return -1, string(out), fmt.Errorf("failed to run compiler %s: %w", compilerPath, err)
}

// referenceDirs returns the distinct directories of the referenced libraries in order
func referenceDirs(refs []string) []string {
	var dirs []string

	seen := make(map[string]bool)
	for _, ref := range refs {
		dir := filepath.Dir(ref)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	return dirs
}
